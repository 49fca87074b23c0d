// Package bus implements the address bus: the canonical store of every
// group address and internal communication object (IKO) known to the
// runtime, together with their latest values.
//
// The bus is the only mutable state shared between components. All value
// changes enter through Write, which records a telegram and publishes it
// to the Broadcaster. Writes are totally ordered per address; every
// subscriber observes the same telegram sequence.
//
// Address keys come in two disjoint syntaxes:
//   - external KNX group addresses: "main/middle/sub" (e.g. "1/2/3")
//   - internal addresses: "IKO:<scope>:<port>" (e.g. "IKO:12_Timer:A1")
//
// Keys are unique case-insensitively. Internal addresses never leave the
// process; external addresses are mirrored to the KNX bus by the gateway.
package bus
