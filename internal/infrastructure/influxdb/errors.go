package influxdb

import "errors"

// Domain errors for the influxdb package.
var (
	// ErrDisabled is returned when Connect is called with the feature
	// switched off in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the server cannot be
	// reached or reports unhealthy.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)
