// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package versionedfile

import (
	"github.com/breezy-team/weft/key"
)

// BasisFunc resolves the fulltext of a record's delta basis, for adapters
// converting delta kinds to fulltext.
type BasisFunc func(k key.Key) ([]byte, error)

// Adapter converts one record's payload to a target storage kind.
type Adapter func(rec Record, basis BasisFunc) ([]byte, error)

// AdapterRegistry is an explicit (from, to) conversion table, built once near
// process start and passed by reference into store constructors. There is
// deliberately no ambient global registry.
type AdapterRegistry struct {
	m map[[2]string]Adapter
}

// NewAdapterRegistry returns an empty registry. knit.RegisterAdapters
// populates the knit storage-kind conversions.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{m: map[[2]string]Adapter{}}
}

// Register installs the converter for from→to, replacing any previous one.
func (r *AdapterRegistry) Register(from, to string, a Adapter) {
	r.m[[2]string{from, to}] = a
}

// Adapt returns rec's content as the requested kind: directly when the
// record itself can produce it, through a registered converter otherwise.
func (r *AdapterRegistry) Adapt(rec Record, to string, basis BasisFunc) ([]byte, error) {
	if data, err := rec.Bytes(to); err == nil {
		return data, nil
	}
	if a, ok := r.m[[2]string{rec.StorageKind(), to}]; ok {
		return a(rec, basis)
	}
	return nil, &UnavailableRepresentationError{Key: rec.Key(), Wanted: to, Have: rec.StorageKind()}
}
