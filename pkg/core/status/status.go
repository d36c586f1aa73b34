// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package status defines the error taxonomy returned by every public entry point of the runtime.
//
// A Status is a regular Go error: it can be wrapped with github.com/pkg/errors and its Code is
// recovered with CodeOf, which unwraps as needed.
package status

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies an error.
type Code int

const (
	// OK is returned by CodeOf(nil).
	OK Code = iota

	// InvalidArgument indicates malformed parameters, rank mismatches or a missing required input.
	InvalidArgument

	// NotFound indicates a missing allocator for a device/memory-type pair, or missing fused functions.
	NotFound

	// OutOfMemory indicates a device or host allocation failure.
	OutOfMemory

	// RuntimeError indicates a device launch or transfer failure. It carries the native error code.
	RuntimeError

	// InvalidGraph indicates malformed node attributes detected at kernel construction time.
	InvalidGraph

	// Unknown is used for errors that don't carry a Status.
	Unknown
)

var codeNames = [...]string{
	OK:              "OK",
	InvalidArgument: "InvalidArgument",
	NotFound:        "NotFound",
	OutOfMemory:     "OutOfMemory",
	RuntimeError:    "RuntimeError",
	InvalidGraph:    "InvalidGraph",
	Unknown:         "Unknown",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return fmt.Sprintf("Code(%d)", int(c))
	}
	return codeNames[c]
}

// Status is an error with a Code.
type Status struct {
	Code Code

	// NativeCode is the device's own error code, only set for RuntimeError.
	NativeCode int

	err error
}

// Error implements error.
func (s *Status) Error() string {
	if s.Code == RuntimeError && s.NativeCode != 0 {
		return fmt.Sprintf("%s (native code %d): %s", s.Code, s.NativeCode, s.err.Error())
	}
	return fmt.Sprintf("%s: %s", s.Code, s.err.Error())
}

// Unwrap returns the underlying error, which carries the stack trace.
func (s *Status) Unwrap() error { return s.err }

// Format implements fmt.Formatter, so "%+v" prints the stack trace of where the Status was created.
func (s *Status) Format(f fmt.State, verb rune) {
	if verb == 'v' && f.Flag('+') {
		_, _ = fmt.Fprintf(f, "%s: %+v", s.Code, s.err)
		return
	}
	_, _ = fmt.Fprint(f, s.Error())
}

// Errorf creates a new Status with the given code and a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return &Status{Code: code, err: errors.Errorf(format, args...)}
}

// Wrapf wraps err in a Status with the given code, adding a formatted message.
// If err is nil it returns nil.
func Wrapf(code Code, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Status{Code: code, err: errors.Wrapf(err, format, args...)}
}

// RuntimeErrorf creates a RuntimeError Status carrying the device native error code.
func RuntimeErrorf(nativeCode int, format string, args ...any) error {
	return &Status{Code: RuntimeError, NativeCode: nativeCode, err: errors.Errorf(format, args...)}
}

// CodeOf returns the Code of err: OK for nil, Unknown if err doesn't wrap a Status.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var s *Status
	if errors.As(err, &s) {
		return s.Code
	}
	return Unknown
}

// NativeCodeOf returns the native device error code carried by err, or 0.
func NativeCodeOf(err error) int {
	var s *Status
	if errors.As(err, &s) {
		return s.NativeCode
	}
	return 0
}

// Is reports whether err carries a Status with the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
