// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package d implements several debug, error and assertion functions used
// throughout weft.
package d

import (
	"fmt"

	"github.com/stretchr/testify/assert"
)

var (
	// Chk provides the testify assert API; a failed assertion panics. Used
	// for invariants that indicate programmer error, never bad data.
	Chk = assert.New(&panicker{})
	// Exp provides the same API as Chk, but the resulting panics can be
	// caught by d.Try().
	Exp = assert.New(&recoverablePanicker{})
)

type panicker struct {
}

func (s panicker) Errorf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

type recoverablePanicker struct {
}

func (s recoverablePanicker) Errorf(format string, args ...interface{}) {
	panic(weftError{fmt.Sprintf(format, args...)})
}

type weftError struct {
	msg string
}

func (e weftError) Error() string {
	return e.msg
}

// WrappedError is the error type thrown by PanicIfError, so that Try can
// distinguish deliberate panics from runtime faults.
type WrappedError struct {
	Cause error
}

func (we WrappedError) Error() string {
	return we.Cause.Error()
}

// PanicIfError panics with a WrappedError if err is non-nil.
func PanicIfError(err error) {
	if err != nil {
		panic(WrappedError{err})
	}
}

// PanicIfTrue panics if b is true.
func PanicIfTrue(b bool) {
	if b {
		panic(fmt.Sprintf("Expected false"))
	}
}

// PanicIfFalse panics if b is false.
func PanicIfFalse(b bool) {
	if !b {
		panic(fmt.Sprintf("Expected true"))
	}
}

// Try runs f, recovering panics raised through PanicIfError or Exp and
// returning them as the error result. Other panics propagate.
func Try(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch r := r.(type) {
			case WrappedError:
				err = r.Cause
			case weftError:
				err = r
			default:
				panic(r)
			}
		}
	}()
	f()
	return
}

// Unwrap returns the error wrapped by PanicIfError, or err itself.
func Unwrap(err error) error {
	if we, ok := err.(WrappedError); ok {
		return we.Cause
	}
	return err
}
