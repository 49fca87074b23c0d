// Package runtime implements the execution scheduler: the single
// actor that owns all block instances and turns bus changes into block
// executions.
//
// One goroutine runs every block Execute. API callers and protocol
// drivers reach the core through a command channel into that goroutine,
// so there is no shared mutable state between a block and anything
// else while it runs. Blocks that need timers or I/O spawn their own
// goroutines and hand results back through Env.SetOutput, which lands
// on the scheduler thread on the next tick.
//
// Triggers are change-driven and coalesced per instance: while an
// instance executes, any number of further trigger arrivals collapse
// into a single pending run with the latest input values. Degenerate
// feedback loops terminate because the bus suppresses block-out writes
// whose value did not change; legitimate oscillators keep running
// because genuinely new values propagate.
package runtime
