package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/binding"
	"github.com/nerrad567/gray-logic-runtime/internal/block"
	"github.com/nerrad567/gray-logic-runtime/internal/bus"
	"github.com/nerrad567/gray-logic-runtime/internal/logicstore"
	"github.com/nerrad567/gray-logic-runtime/internal/remanent"
)

// Scheduler defaults.
const (
	defaultExecTimeout        = 5 * time.Second
	defaultFailureLimit       = 3
	defaultFailureWindow      = time.Minute
	defaultPeriodicResolution = time.Second
	defaultCheckpointInterval = 60 * time.Second
	defaultCommandQueueSize   = 64
)

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BusWriter routes a value write onto the bus and, for external
// addresses, to the KNX driver. *bus.Bus satisfies it directly; the
// knx gateway wraps it with driver forwarding.
type BusWriter interface {
	Write(key string, value bus.Value, origin bus.Origin) (*bus.Telegram, error)
}

// EventSink receives scheduler telemetry: lifecycle transitions and
// execution errors. The WebSocket hub adapts this onto its channels.
type EventSink interface {
	BlockLifecycle(instanceID string, state State, reason string)
	SchedulerError(instanceID, trigger string, err error)
}

type noopSink struct{}

func (noopSink) BlockLifecycle(string, State, string) {}
func (noopSink) SchedulerError(string, string, error) {}

// Config tunes the scheduler.
type Config struct {
	// ExecTimeout is the soft per-execution budget. Exceeding it is
	// logged and flags the instance; the block is not terminated
	// (execution is cooperative).
	ExecTimeout time.Duration

	// FailureLimit consecutive failures within FailureWindow demote
	// the instance to disabled.
	FailureLimit  int
	FailureWindow time.Duration

	// PeriodicResolution is the tick for periodic block triggers.
	PeriodicResolution time.Duration

	// CheckpointInterval is the remanent checkpoint cadence.
	// Zero disables periodic checkpoints (shutdown still checkpoints).
	CheckpointInterval time.Duration

	// CustomBlocksDir is the user block definition directory.
	CustomBlocksDir string
}

func (c Config) withDefaults() Config {
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = defaultExecTimeout
	}
	if c.FailureLimit <= 0 {
		c.FailureLimit = defaultFailureLimit
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = defaultFailureWindow
	}
	if c.PeriodicResolution <= 0 {
		c.PeriodicResolution = defaultPeriodicResolution
	}
	if c.CheckpointInterval < 0 {
		c.CheckpointInterval = 0
	}
	return c
}

// command is one unit of work for the scheduler goroutine.
type command struct {
	fn func()
}

// Scheduler is the single-threaded execution engine.
type Scheduler struct {
	cfg      Config
	registry *block.Registry
	bus      *bus.Bus
	writer   BusWriter
	table    *binding.Table
	remanent *remanent.Store
	store    *logicstore.Store
	logger   Logger
	events   EventSink

	cmds    chan command
	wake    chan struct{}
	stopped chan struct{}

	asyncMu  sync.Mutex
	asyncOps []func()

	// Everything below is owned by the scheduler goroutine.
	instances map[string]*Instance
	pages     map[string]Page
	positions map[string]logicstore.Position
	queue     []*Instance
	counter   int
}

// New creates a scheduler. The binding table is created here because
// the scheduler is its Instances provider.
func New(cfg Config, registry *block.Registry, addressBus *bus.Bus, rem *remanent.Store, store *logicstore.Store) *Scheduler {
	s := &Scheduler{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		bus:       addressBus,
		writer:    addressBus,
		remanent:  rem,
		store:     store,
		logger:    noopLogger{},
		events:    noopSink{},
		cmds:      make(chan command, defaultCommandQueueSize),
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
		instances: make(map[string]*Instance),
		pages:     make(map[string]Page),
		positions: make(map[string]logicstore.Position),
	}
	s.table = binding.NewTable(addressBus, s)
	addressBus.SetRefChecker(s.table)
	return s
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
	s.table.SetLogger(logger)
}

// SetEventSink wires scheduler telemetry to the API layer.
func (s *Scheduler) SetEventSink(sink EventSink) {
	if sink != nil {
		s.events = sink
	}
}

// SetBusWriter overrides the write route, normally with the outbound
// KNX gateway so external addresses reach the driver.
func (s *Scheduler) SetBusWriter(w BusWriter) {
	if w != nil {
		s.writer = w
	}
}

// Table exposes the binding table (read-side helpers for the API).
func (s *Scheduler) Table() *binding.Table { return s.table }

// Run executes the scheduler loop until the context is cancelled, then
// performs the graceful shutdown sequence: stop accepting triggers,
// drain the queue, checkpoint remanent state, flush persistence.
func (s *Scheduler) Run(ctx context.Context) {
	periodic := time.NewTicker(s.cfg.PeriodicResolution)
	defer periodic.Stop()

	var checkpointC <-chan time.Time
	if s.cfg.CheckpointInterval > 0 {
		checkpoint := time.NewTicker(s.cfg.CheckpointInterval)
		defer checkpoint.Stop()
		checkpointC = checkpoint.C
	}

	s.logger.Info("scheduler running",
		"instances", len(s.instances),
		"exec_timeout", s.cfg.ExecTimeout.String(),
	)

	// Initial executions queued by Load run first.
	s.dispatch()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case cmd := <-s.cmds:
			cmd.fn()
		case <-s.wake:
		case <-periodic.C:
			s.tickPeriodic()
		case <-checkpointC:
			if err := s.checkpoint(); err != nil {
				s.logger.Error("remanent checkpoint failed", "error", err)
			}
		}
		s.dispatch()
	}
}

// do runs fn on the scheduler goroutine and waits for it.
func (s *Scheduler) do(fn func()) error {
	done := make(chan struct{})
	wrapped := command{fn: func() {
		fn()
		close(done)
	}}

	select {
	case s.cmds <- wrapped:
	case <-s.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrStopped
	}
}

// postAsync queues fn for the scheduler goroutine without blocking.
// Safe from any goroutine, including the scheduler's own (a block
// writing an output from inside Execute lands here).
func (s *Scheduler) postAsync(fn func()) {
	s.asyncMu.Lock()
	s.asyncOps = append(s.asyncOps, fn)
	s.asyncMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drainAsync applies queued async operations in arrival order.
// Runs on the scheduler goroutine.
func (s *Scheduler) drainAsync() {
	for {
		s.asyncMu.Lock()
		ops := s.asyncOps
		s.asyncOps = nil
		s.asyncMu.Unlock()
		if len(ops) == 0 {
			return
		}
		for _, fn := range ops {
			fn()
		}
	}
}

// dispatch drains the run queue, interleaving async output writes so
// cascades settle in causal order. Runs on the scheduler goroutine.
func (s *Scheduler) dispatch() {
	for {
		s.drainAsync()
		if len(s.queue) == 0 {
			return
		}
		inst := s.queue[0]
		s.queue = s.queue[1:]
		s.runInstance(inst)
	}
}

// enqueue schedules an execution for the instance.
//
// Coalescing: while the instance executes or already waits in the
// queue, further triggers collapse into one pending run that uses the
// latest input values. The queue is FIFO in arrival order.
func (s *Scheduler) enqueue(inst *Instance, trigger string) {
	if !inst.runnable() {
		return
	}
	if inst.executing {
		inst.hasPending = true
		inst.nextTrigger = trigger
		return
	}
	if inst.queued {
		inst.nextTrigger = trigger
		return
	}
	inst.queued = true
	inst.nextTrigger = trigger
	s.queue = append(s.queue, inst)
}

// runInstance executes one instance once. Runs on the scheduler
// goroutine.
func (s *Scheduler) runInstance(inst *Instance) {
	inst.queued = false
	if !inst.runnable() {
		return
	}

	trigger := inst.nextTrigger
	inst.State = StateExecuting
	inst.executing = true

	exec := block.NewExec(trigger, inst.coercedInputs(),
		func(port string, v bus.Value) { s.applyOutput(inst, port, v) },
		inst.debug.push,
	)

	start := time.Now()
	err := s.safeExecute(inst, exec)
	elapsed := time.Since(start)

	inst.executing = false
	inst.State = StateReady
	inst.lastExecuted = time.Now().UTC()

	if elapsed > s.cfg.ExecTimeout {
		// Cooperative model: the block is not killed, only flagged.
		inst.timedOut = true
		s.logger.Warn("block execution exceeded soft timeout",
			"instance", inst.ID, "trigger", trigger, "elapsed", elapsed.String())
	}

	if err != nil {
		s.logger.Error("block execution failed",
			"instance", inst.ID, "trigger", trigger, "error", err)
		s.events.SchedulerError(inst.ID, trigger, err)

		if inst.recordFailure(time.Now(), s.cfg.FailureLimit, s.cfg.FailureWindow) {
			inst.State = StateDisabled
			inst.DisabledReason = ReasonRepeatedFailure
			s.logger.Warn("block disabled after repeated failures", "instance", inst.ID)
			s.events.BlockLifecycle(inst.ID, StateDisabled, ReasonRepeatedFailure)
		}
		return
	}

	// A successful run ends the failure streak.
	inst.failures = nil

	if inst.hasPending {
		inst.hasPending = false
		s.enqueue(inst, inst.nextTrigger)
	}
}

// safeExecute invokes the block with panic recovery. A block's own
// failure never destabilises the scheduler.
func (s *Scheduler) safeExecute(inst *Instance, exec *block.Exec) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("block panic: %v", r)
		}
	}()
	return inst.blk.Execute(exec)
}

// applyOutput stores an output value and propagates it through the
// bus when the port is bound. Runs on the scheduler goroutine.
func (s *Scheduler) applyOutput(inst *Instance, port string, v bus.Value) {
	if inst.Unloadable {
		return
	}
	spec, ok := inst.desc.Outputs[port]
	if !ok {
		s.logger.Warn("write to unknown output port", "instance", inst.ID, "port", port)
		return
	}
	cv, ok := block.Coerce(v, spec.Type)
	if !ok {
		s.logger.Warn("output value not coercible to port type",
			"instance", inst.ID, "port", port, "value", v.Text(), "type", string(spec.Type))
		return
	}
	inst.outputs[port] = cv

	b, bound := s.table.Resolve(inst.ID, port)
	if !bound || b.Direction != binding.DirectionOutput {
		return
	}
	s.writeBus(b.AddressKey, cv, bus.OriginBlockOut)
}

// writeBus routes a write and delivers the resulting telegram to bound
// inputs. Runs on the scheduler goroutine.
func (s *Scheduler) writeBus(key string, v bus.Value, origin bus.Origin) (*bus.Telegram, error) {
	tel, err := s.writer.Write(key, v, origin)
	if err != nil {
		s.logger.Warn("bus write failed", "address", key, "origin", string(origin), "error", err)
		return nil, err
	}
	if tel != nil {
		s.routeTelegram(tel)
	}
	return tel, err
}

// routeTelegram fans a telegram out to every input port bound to the
// address. Runs on the scheduler goroutine.
func (s *Scheduler) routeTelegram(tel *bus.Telegram) {
	for _, ref := range s.table.SubscribersOf(tel.Address) {
		inst, ok := s.instances[ref.Instance]
		if !ok {
			continue
		}
		s.deliverInput(inst, ref.Port, tel.NewValue)
	}
}

// deliverInput applies a value to an input port. The instance is
// triggered only when the coerced value differs from the previously
// delivered value at that port (change-driven execution).
func (s *Scheduler) deliverInput(inst *Instance, port string, v bus.Value) {
	if inst.Unloadable {
		return
	}
	spec, ok := inst.desc.Inputs[port]
	if !ok {
		return
	}

	cv, ok := block.Coerce(v, spec.Type)
	if !ok {
		// Non-representable values fall back to the schema default.
		s.logger.Warn("input value not coercible, using port default",
			"instance", inst.ID, "port", port, "value", v.Text())
		cv = spec.Default
	}
	inst.inputs[port] = cv

	last, seen := inst.lastDelivered[port]
	if seen && cv.Equal(last) {
		return
	}
	inst.lastDelivered[port] = cv
	s.enqueue(inst, port)
}

// tickPeriodic enqueues periodic triggers for blocks that declare an
// interval. Periodic triggers go to the tail of the queue.
func (s *Scheduler) tickPeriodic() {
	now := time.Now()
	for _, inst := range s.instances {
		if !inst.runnable() || inst.blk == nil {
			continue
		}
		p, ok := inst.blk.(block.Periodic)
		if !ok {
			continue
		}
		interval := p.Interval()
		if interval <= 0 {
			continue
		}
		if inst.lastPeriodic.IsZero() || now.Sub(inst.lastPeriodic) >= interval {
			inst.lastPeriodic = now
			s.enqueue(inst, block.TriggerPeriodic)
		}
	}
}

// checkpoint captures remanent state for all live remanent instances
// plus the retained blobs of unloadable ones, and writes one atomic
// snapshot. Runs on the scheduler goroutine.
func (s *Scheduler) checkpoint() error {
	if s.remanent == nil {
		return nil
	}

	snapshot := make(map[string]json.RawMessage)
	for id, inst := range s.instances {
		if inst.Unloadable {
			if inst.retainedRemanent != nil {
				snapshot[id] = inst.retainedRemanent
			}
			continue
		}
		if !inst.desc.Remanent {
			continue
		}
		rem, ok := inst.blk.(block.Remanent)
		if !ok {
			continue
		}
		state, err := rem.RemanentState()
		if err != nil {
			s.logger.Warn("remanent state capture failed", "instance", id, "error", err)
			continue
		}
		if state != nil {
			snapshot[id] = state
		}
	}

	return s.remanent.Write(snapshot)
}

// shutdown is the graceful stop sequence. Runs on the scheduler
// goroutine, after which no more commands are accepted.
func (s *Scheduler) shutdown() {
	s.logger.Info("scheduler stopping")

	// Drain: finish everything already triggered.
	s.dispatch()

	// Stop accepting commands.
	close(s.stopped)

	// Stop blocks (cancels their background goroutines).
	for _, inst := range s.instances {
		s.stopInstance(inst)
	}

	// In-order checkpoint, then close persistence.
	if err := s.checkpoint(); err != nil {
		s.logger.Error("final remanent checkpoint failed", "error", err)
	}
	if s.store != nil {
		s.store.ScheduleSave(s.capturedFile())
		s.store.Flush()
	}

	s.logger.Info("scheduler stopped")
}

// stopInstance stops a block and closes its done channel.
func (s *Scheduler) stopInstance(inst *Instance) {
	if inst.blk != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("block stop panic", "instance", inst.ID, "panic", r)
				}
			}()
			inst.blk.Stop()
		}()
	}
	select {
	case <-inst.done:
	default:
		close(inst.done)
	}
}

// markDirty captures the current configuration and schedules a
// debounced save. Runs on the scheduler goroutine.
func (s *Scheduler) markDirty() {
	if s.store == nil {
		return
	}
	s.store.ScheduleSave(s.capturedFile())
}

// capturedFile snapshots the configuration eagerly (on the scheduler
// goroutine) and returns a closure handing it to the saver, so the
// debounce timer never touches live scheduler state.
func (s *Scheduler) capturedFile() func() *logicstore.File {
	f := s.buildFile()
	return func() *logicstore.File { return f }
}
