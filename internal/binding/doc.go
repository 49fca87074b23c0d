// Package binding maintains the table associating block ports with bus
// addresses.
//
// The table is a back-reference index: it owns no entities. Each port
// carries at most one binding; one address may feed many input ports
// (fan-out) but is driven by at most one output port. The BLOCK:
// shorthand for direct block-to-block connections is expanded here to a
// deduplicated IKO address, so wiring one output to many inputs creates
// exactly one internal address.
package binding
