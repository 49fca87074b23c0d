package block

import (
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// defaultPulseWidth is how long the pulse output stays high.
const defaultPulseWidth = 100 * time.Millisecond

// pulse converts a button press (constant 1) into a short 1-0 pulse.
//
// Wall panels often latch their output at 1; downstream protocol blocks
// (media players in particular) want an edge. The falling edge is
// produced off the scheduler thread via Env.SetOutput.
type pulse struct {
	BaseBlock
	mu    sync.Mutex
	timer *time.Timer
}

func pulseType() Type {
	return funcType{
		desc: Descriptor{
			ID: 19001, Key: "Pulse", Name: "Button to Pulse",
			Description: "Converts a constant 1 into a short 1-0 pulse",
			Category:    "Utility", Version: "1.0", Builtin: true,
			Help: "Wire a latching button to E1. A1 goes to 1 on every press " +
				"and falls back to 0 after 100 ms, so edge-triggered inputs " +
				"fire once per press.",
			Inputs: map[string]PortSpec{
				"E1": boolIn("Button input"),
			},
			Outputs: map[string]PortSpec{
				"A1": {Name: "Pulse output", Type: TypeBool},
			},
		},
		factory: func() Block { return &pulse{} },
	}
}

func (b *pulse) Execute(e *Exec) error {
	if e.TriggeredBy != "E1" {
		return nil
	}
	pressed, _ := e.Input("E1").AsBool() //nolint:errcheck // coerced by scheduler
	if !pressed {
		return nil
	}

	e.SetOutput("A1", bus.Bool(true))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
	env := b.Env()
	b.timer = time.AfterFunc(defaultPulseWidth, func() {
		select {
		case <-env.Done():
		default:
			env.SetOutput("A1", bus.Bool(false))
		}
	})
	return nil
}

func (b *pulse) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
