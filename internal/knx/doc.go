// Package knx talks to the KNX installation through a knxd group
// socket: group-address parsing, datapoint-type encoding, the knxd
// wire protocol, and the outbound gateway that routes bus writes to
// the driver.
//
// The logic core consumes only the Driver interface; the concrete
// knxd client is wiring detail. Inbound telegrams arrive on the
// driver's callback and are handed to the scheduler, which owns all
// further routing.
package knx
