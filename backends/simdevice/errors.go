// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simdevice

// Native error codes reported by the simulated device, in status.RuntimeError statuses.
// They follow the numbering of the CUDA runtime error codes they mimic.
const (
	ErrorInvalidValue        = 1
	ErrorMemoryAllocation    = 2
	ErrorDeinitialized       = 4
	ErrorInvalidDevice       = 101
	ErrorInvalidHandle       = 400
	ErrorIllegalAddress      = 700
	ErrorLaunchFailure       = 719
	ErrorInvalidMemcpyDevice = 702
)

// ErrorName returns the name of a native error code.
func ErrorName(code int) string {
	switch code {
	case 0:
		return "success"
	case ErrorInvalidValue:
		return "invalid value"
	case ErrorMemoryAllocation:
		return "memory allocation"
	case ErrorDeinitialized:
		return "deinitialized"
	case ErrorInvalidDevice:
		return "invalid device"
	case ErrorInvalidHandle:
		return "invalid resource handle"
	case ErrorIllegalAddress:
		return "illegal address"
	case ErrorLaunchFailure:
		return "unspecified launch failure"
	case ErrorInvalidMemcpyDevice:
		return "invalid memcpy device"
	default:
		return "unknown error"
	}
}
