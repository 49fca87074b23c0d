// Package block defines block types, the built-in block set, and the
// registry that resolves type keys to executable blocks.
//
// A block type declares its input and output port schemas and produces
// Block values; the scheduler owns the instances. Built-in types are
// compiled in; user types are declarative YAML definitions loaded from
// the custom-blocks directory, with per-output expressions evaluated by
// a small built-in expression engine.
//
// Blocks execute on the scheduler goroutine and must not block there.
// Blocks that need timers or I/O spawn their own goroutines and deliver
// results back through Env.SetOutput, which routes the write onto the
// scheduler thread.
package block
