// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package config holds the tuning knobs for the storage backends.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// StoreOptions tunes a store. Zero values mean "use the default"; call
// Defaults() or normalize with ApplyDefaults before use.
type StoreOptions struct {
	// MaxDeltaChain bounds how many delta steps may separate a record from
	// its nearest fulltext ancestor.
	MaxDeltaChain int `toml:"max_delta_chain"`

	// GroupBlockSize is the byte threshold past which an open groupcompress
	// block is flushed.
	GroupBlockSize int `toml:"group_block_size"`

	// EnableCache turns on the per-store raw-record read cache. Purely a
	// performance knob; a miss always falls back to the access layer.
	EnableCache bool `toml:"enable_cache"`
}

// Defaults returns the stock options.
func Defaults() StoreOptions {
	return StoreOptions{
		MaxDeltaChain:  200,
		GroupBlockSize: 4 * 1024 * 1024,
	}
}

// ApplyDefaults fills zero fields from Defaults.
func (o StoreOptions) ApplyDefaults() StoreOptions {
	def := Defaults()
	if o.MaxDeltaChain == 0 {
		o.MaxDeltaChain = def.MaxDeltaChain
	}
	if o.GroupBlockSize == 0 {
		o.GroupBlockSize = def.GroupBlockSize
	}
	return o
}

// Load reads options from a TOML file, filling omitted fields from the
// defaults.
func Load(path string) (StoreOptions, error) {
	var o StoreOptions
	if _, err := toml.DecodeFile(path, &o); err != nil {
		return o, errors.Wrapf(err, "loading store options from %s", path)
	}
	return o.ApplyDefaults(), nil
}
