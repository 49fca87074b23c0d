// Package mqtt is the runtime's optional, publish-only MQTT surface:
// the telegram relay mirrors every bus value change to a broker, and a
// retained status document marks the runtime online or offline (with a
// Last Will for crashes).
//
// There is deliberately no subscribe path — commands enter the runtime
// through its HTTP API, not the broker — and the relay is lossy under
// pressure: a slow broker never backpressures the address bus.
package mqtt
