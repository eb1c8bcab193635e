package adb

import "errors"

var (
	// ErrDeviceUnavailable is returned when adb cannot reach the device.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrCommandFailed wraps a non-zero adb exit.
	ErrCommandFailed = errors.New("adb command failed")
	// ErrTimeout is returned when an adb command exceeds its deadline.
	ErrTimeout = errors.New("adb command timed out")
)
