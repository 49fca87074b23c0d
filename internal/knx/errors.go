package knx

import "errors"

// Domain errors for the knx package.
var (
	// ErrInvalidGroupAddress is returned for malformed group addresses.
	ErrInvalidGroupAddress = errors.New("knx: invalid group address")

	// ErrInvalidTelegram is returned for malformed wire telegrams.
	ErrInvalidTelegram = errors.New("knx: invalid telegram")

	// ErrEncodingFailed is returned when a value cannot be encoded
	// into the requested datapoint type.
	ErrEncodingFailed = errors.New("knx: DPT encoding failed")

	// ErrDecodingFailed is returned when KNX data cannot be decoded.
	ErrDecodingFailed = errors.New("knx: DPT decoding failed")

	// ErrUnsupportedDPT is returned for datapoint types the gateway
	// cannot transcode.
	ErrUnsupportedDPT = errors.New("knx: unsupported datapoint type")

	// ErrConnectionFailed is returned when the knxd connection cannot
	// be established.
	ErrConnectionFailed = errors.New("knx: connection failed")

	// ErrNotConnected is returned when sending without a connection.
	ErrNotConnected = errors.New("knx: not connected")

	// ErrTelegramFailed is returned when sending a telegram fails.
	ErrTelegramFailed = errors.New("knx: telegram send failed")

	// ErrProtocolDesync is returned when the knxd stream framing is
	// corrupted; the connection must be re-established.
	ErrProtocolDesync = errors.New("knx: protocol desync")
)
