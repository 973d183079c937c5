package influxdb

import "errors"

var (
	// ErrNotConnected is returned by writes after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps batch failures passed to the error callback.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled indicates the mirror is disabled in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
