package block

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// timerTick is the countdown update interval.
const timerTick = time.Second

// timer is a remanent countdown timer.
//
// E1 starts (1) or stops (0) the countdown, E2 sets the duration in
// minutes. A1 reports running state, A2 the remaining seconds, A3 the
// remaining time as HH:MM.
//
// The countdown runs in its own goroutine and delivers updates through
// Env.SetOutput. Remanent state is the absolute expiry timestamp, so a
// restart mid-countdown resumes with the elapsed downtime subtracted.
type timer struct {
	BaseBlock

	mu      sync.Mutex
	running bool
	target  time.Time
	cancel  chan struct{}
}

// timerState is the persisted remanent snapshot.
type timerState struct {
	Running    bool  `json:"running"`
	TargetUnix int64 `json:"target_unix"`
}

func timerType() Type {
	return funcType{
		desc: Descriptor{
			ID: 20043, Key: "Timer", Name: "Timer",
			Description: "Countdown timer with minute input, start/stop and persistence",
			Category:    "Utility", Version: "2.1", Builtin: true, Remanent: true,
			Help: "Set the duration in minutes on E2, then set E1 to 1 to start. " +
				"A2/A3 update every second; A1 falls to 0 when the countdown " +
				"expires or E1 goes to 0. A running countdown survives restarts: " +
				"the expiry instant is checkpointed and downtime is subtracted.",
			Inputs: map[string]PortSpec{
				"E1": boolIn("Start/Stop (1=start, 0=stop)"),
				"E2": realIn("Duration in minutes", 0),
			},
			Outputs: map[string]PortSpec{
				"A1": {Name: "Running (1=running, 0=expired)", Type: TypeBool},
				"A2": {Name: "Remaining seconds", Type: TypeReal},
				"A3": {Name: "Remaining (HH:MM)", Type: TypeString},
			},
		},
		factory: func() Block { return &timer{} },
	}
}

// Start resumes a restored countdown, if any.
func (b *timer) Start(env Env) error {
	if err := b.BaseBlock.Start(env); err != nil {
		return err
	}

	b.mu.Lock()
	resume := b.running && time.Now().Before(b.target)
	expired := b.running && !resume
	b.mu.Unlock()

	switch {
	case resume:
		b.startCountdown()
	case expired:
		// Expired while the runtime was down.
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		b.publish(0, false)
	}
	return nil
}

func (b *timer) Execute(e *Exec) error {
	start, _ := e.Input("E1").AsBool()   //nolint:errcheck // coerced by scheduler
	minutes, _ := e.Input("E2").AsReal() //nolint:errcheck // coerced by scheduler

	if start && minutes > 0 {
		seconds := minutes * 60
		b.mu.Lock()
		b.stopLocked()
		b.running = true
		b.target = time.Now().Add(time.Duration(seconds * float64(time.Second)))
		b.mu.Unlock()

		// Immediate state goes through the exec so it lands in this
		// execution; the countdown goroutine updates through the env.
		timerOutputs(e.SetOutput, seconds, true)
		b.startCountdown()
		e.Debug("status", fmt.Sprintf("running, %.0f min", minutes))
		return nil
	}

	if !start {
		b.mu.Lock()
		wasRunning := b.running
		b.stopLocked()
		b.running = false
		b.mu.Unlock()
		if wasRunning {
			timerOutputs(e.SetOutput, 0, false)
			e.Debug("status", "stopped")
		}
	}
	return nil
}

func (b *timer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

// RemanentState captures the expiry instant.
func (b *timer) RemanentState() (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return json.Marshal(timerState{
		Running:    b.running,
		TargetUnix: b.target.Unix(),
	})
}

// RestoreState reloads the expiry instant. Called before Start.
func (b *timer) RestoreState(state json.RawMessage) error {
	var s timerState
	if err := json.Unmarshal(state, &s); err != nil {
		return fmt.Errorf("restoring timer state: %w", err)
	}
	b.mu.Lock()
	b.running = s.Running
	b.target = time.Unix(s.TargetUnix, 0)
	b.mu.Unlock()
	return nil
}

// startCountdown launches the ticking goroutine.
func (b *timer) startCountdown() {
	b.mu.Lock()
	cancel := make(chan struct{})
	b.cancel = cancel
	target := b.target
	b.mu.Unlock()

	env := b.Env()
	go func() {
		ticker := time.NewTicker(timerTick)
		defer ticker.Stop()
		for {
			select {
			case <-cancel:
				return
			case <-env.Done():
				return
			case <-ticker.C:
				remaining := time.Until(target).Seconds()
				if remaining <= 0 {
					b.mu.Lock()
					b.running = false
					b.cancel = nil
					b.mu.Unlock()
					b.publish(0, false)
					return
				}
				b.publish(remaining, true)
			}
		}
	}()
}

// stopLocked cancels the countdown goroutine. Caller holds b.mu.
func (b *timer) stopLocked() {
	if b.cancel != nil {
		close(b.cancel)
		b.cancel = nil
	}
}

// publish writes the three outputs through the env (countdown
// goroutine path).
func (b *timer) publish(remainingSeconds float64, running bool) {
	env := b.Env()
	if env == nil {
		return
	}
	timerOutputs(env.SetOutput, remainingSeconds, running)
}

// timerOutputs renders the remaining time onto the three output ports.
func timerOutputs(set func(port string, v bus.Value), remainingSeconds float64, running bool) {
	if remainingSeconds < 0 {
		remainingSeconds = 0
	}
	secs := int(remainingSeconds + 0.5)
	set("A1", bus.Bool(running))
	set("A2", bus.Real(float64(secs)))
	set("A3", bus.String(fmt.Sprintf("%02d:%02d", secs/3600, (secs%3600)/60)))
}
