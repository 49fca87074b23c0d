package runtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-runtime/internal/binding"
	"github.com/nerrad567/gray-logic-runtime/internal/block"
	"github.com/nerrad567/gray-logic-runtime/internal/bus"
	"github.com/nerrad567/gray-logic-runtime/internal/logicstore"
)

// Commanded operations. Every method here posts onto the scheduler
// goroutine and waits for the result, which is what serialises API
// access to the core (see the concurrency model in the package doc).

// WriteAddress writes a value to an address on behalf of the API or
// the KNX driver.
func (s *Scheduler) WriteAddress(key string, value bus.Value, origin bus.Origin) (*bus.Telegram, error) {
	var (
		tel *bus.Telegram
		err error
	)
	if doErr := s.do(func() { tel, err = s.writeBus(key, value, origin) }); doErr != nil {
		return nil, doErr
	}
	return tel, err
}

// CreateAddress creates an address.
func (s *Scheduler) CreateAddress(desc bus.Descriptor) (bus.Address, error) {
	var (
		addr bus.Address
		err  error
	)
	if doErr := s.do(func() { addr, err = s.bus.Create(desc) }); doErr != nil {
		return bus.Address{}, doErr
	}
	return addr, err
}

// UpdateAddress patches an address.
func (s *Scheduler) UpdateAddress(key string, patch bus.Patch) (bus.Address, error) {
	var (
		addr bus.Address
		err  error
	)
	if doErr := s.do(func() { addr, err = s.bus.Update(key, patch) }); doErr != nil {
		return bus.Address{}, doErr
	}
	return addr, err
}

// DeleteAddress deletes an address. With force, all bindings that
// reference it are removed first; without, a bound address fails with
// bus.ErrInUse.
func (s *Scheduler) DeleteAddress(key string, force bool) error {
	var err error
	if doErr := s.do(func() {
		if force {
			if n := s.table.UnbindAddress(key); n > 0 {
				s.logger.Info("bindings removed with address", "address", key, "count", n)
				s.markDirty()
			}
		}
		err = s.bus.Delete(key)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Instantiate creates a block instance of the given type.
func (s *Scheduler) Instantiate(typeKey, name, pageID string) (InstanceView, error) {
	var (
		view InstanceView
		err  error
	)
	if doErr := s.do(func() { view, err = s.instantiate(typeKey, name, pageID) }); doErr != nil {
		return InstanceView{}, doErr
	}
	return view, err
}

func (s *Scheduler) instantiate(typeKey, name, pageID string) (InstanceView, error) {
	typ, err := s.registry.Resolve(typeKey)
	if err != nil {
		return InstanceView{}, err
	}
	desc := typ.Descriptor()

	s.counter++
	id := fmt.Sprintf("%d_%s_%d_%s", desc.ID, desc.Key, s.counter, uuid.NewString()[:8])

	inst := s.newInstance(id, typ, desc)
	inst.Name = name
	inst.PageID = pageID
	s.instances[id] = inst

	if err := s.startInstance(inst); err != nil {
		delete(s.instances, id)
		return InstanceView{}, fmt.Errorf("starting block: %w", err)
	}
	inst.State = StateReady
	s.events.BlockLifecycle(id, StateReady, "")
	s.enqueue(inst, block.TriggerInitial)
	s.markDirty()

	s.logger.Info("block instantiated", "instance", id, "type", typeKey)
	return s.view(inst), nil
}

// newInstance builds the in-memory instance shell.
func (s *Scheduler) newInstance(id string, typ block.Type, desc block.Descriptor) *Instance {
	return &Instance{
		ID:            id,
		TypeKey:       desc.Key,
		Enabled:       true,
		State:         StateUnloaded,
		typ:           typ,
		blk:           typ.New(),
		desc:          desc,
		inputs:        make(map[string]bus.Value),
		outputs:       make(map[string]bus.Value),
		lastDelivered: make(map[string]bus.Value),
		debug:         newDebugRing(),
		done:          make(chan struct{}),
	}
}

// startInstance runs the block's Start hook.
func (s *Scheduler) startInstance(inst *Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("block start panic: %v", r)
		}
	}()
	return inst.blk.Start(&instanceEnv{s: s, inst: inst})
}

// DeleteInstance removes a block instance and its bindings.
func (s *Scheduler) DeleteInstance(id string) error {
	var err error
	if doErr := s.do(func() {
		inst, ok := s.instances[id]
		if !ok {
			err = fmt.Errorf("%w: %q", ErrUnknownInstance, id)
			return
		}
		s.stopInstance(inst)
		s.table.UnbindInstance(id)
		delete(s.instances, id)
		delete(s.positions, id)
		s.markDirty()
		s.logger.Info("block deleted", "instance", id)
	}); doErr != nil {
		return doErr
	}
	return err
}

// UpdateInstance renames or re-pages an instance. Nil fields are
// left unchanged.
func (s *Scheduler) UpdateInstance(id string, name, pageID *string) (InstanceView, error) {
	var (
		view InstanceView
		err  error
	)
	if doErr := s.do(func() {
		inst, ok := s.instances[id]
		if !ok {
			err = fmt.Errorf("%w: %q", ErrUnknownInstance, id)
			return
		}
		if name != nil {
			inst.Name = *name
		}
		if pageID != nil {
			inst.PageID = *pageID
		}
		s.markDirty()
		view = s.view(inst)
	}); doErr != nil {
		return InstanceView{}, doErr
	}
	return view, err
}

// SetEnabled enables or disables an instance administratively.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	var err error
	if doErr := s.do(func() {
		inst, ok := s.instances[id]
		if !ok {
			err = fmt.Errorf("%w: %q", ErrUnknownInstance, id)
			return
		}
		inst.Enabled = enabled
		if enabled {
			inst.DisabledReason = ""
			inst.failures = nil
			if !inst.Unloadable && inst.State == StateDisabled {
				inst.State = StateReady
			}
			s.events.BlockLifecycle(id, StateReady, "")
		} else {
			inst.State = StateDisabled
			inst.DisabledReason = ReasonAdmin
			s.events.BlockLifecycle(id, StateDisabled, ReasonAdmin)
		}
		s.markDirty()
	}); doErr != nil {
		return doErr
	}
	return err
}

// Bind binds a block port to an address.
//
// On success the binding is seeded: an input port immediately receives
// the address's current value; an output port's current value is
// written to the address.
func (s *Scheduler) Bind(instanceID, port string, dir binding.Direction, addressKey string, autoCreate bool) (binding.Binding, error) {
	var (
		b   binding.Binding
		err error
	)
	if doErr := s.do(func() { b, err = s.bind(instanceID, port, dir, addressKey, autoCreate) }); doErr != nil {
		return binding.Binding{}, doErr
	}
	return b, err
}

func (s *Scheduler) bind(instanceID, port string, dir binding.Direction, addressKey string, autoCreate bool) (binding.Binding, error) {
	mode := binding.AutoCreateNo
	if autoCreate {
		mode = binding.AutoCreateEnsure
	}
	b, err := s.table.Bind(instanceID, port, dir, addressKey, mode)
	if err != nil {
		return binding.Binding{}, err
	}
	s.markDirty()

	inst, ok := s.instances[instanceID]
	if !ok || inst.Unloadable {
		return b, nil
	}

	switch dir {
	case binding.DirectionInput:
		// Seed the input with the address's current value.
		if addr, getErr := s.bus.Get(b.AddressKey); getErr == nil && !addr.LastValue.IsNull() {
			s.deliverInput(inst, port, addr.LastValue)
		}
	case binding.DirectionOutput:
		// Seed the address with the output's current value.
		if v, okOut := inst.outputs[port]; okOut && !v.IsNull() {
			s.writeBus(b.AddressKey, v, bus.OriginBlockOut)
		}
	}
	return b, nil
}

// Unbind removes the binding of a port.
func (s *Scheduler) Unbind(instanceID, port string) error {
	var err error
	if doErr := s.do(func() {
		if _, err = s.table.Unbind(instanceID, port); err == nil {
			s.markDirty()
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// SetInput performs a synthetic input write: the value is delivered to
// the port without touching any address.
func (s *Scheduler) SetInput(instanceID, port string, value bus.Value) error {
	var err error
	if doErr := s.do(func() {
		inst, ok := s.instances[instanceID]
		if !ok {
			err = fmt.Errorf("%w: %q", ErrUnknownInstance, instanceID)
			return
		}
		if inst.Unloadable {
			err = fmt.Errorf("%w: %q", ErrUnloadable, instanceID)
			return
		}
		if _, ok := inst.desc.Inputs[port]; !ok {
			err = fmt.Errorf("%w: %q has no input %q", block.ErrUnknownPort, instanceID, port)
			return
		}
		s.deliverInput(inst, port, value)
		s.markDirty()
	}); doErr != nil {
		return doErr
	}
	return err
}

// Trigger requests a manual execution of an instance.
func (s *Scheduler) Trigger(instanceID string) error {
	var err error
	if doErr := s.do(func() {
		inst, ok := s.instances[instanceID]
		if !ok {
			err = fmt.Errorf("%w: %q", ErrUnknownInstance, instanceID)
			return
		}
		if inst.Unloadable {
			err = fmt.Errorf("%w: %q", ErrUnloadable, instanceID)
			return
		}
		if inst.executing {
			inst.hasPending = true
			inst.nextTrigger = block.TriggerManual
			return
		}
		s.enqueue(inst, block.TriggerManual)
	}); doErr != nil {
		return doErr
	}
	return err
}

// ListInstances returns snapshots of all instances sorted by id.
func (s *Scheduler) ListInstances() ([]InstanceView, error) {
	var views []InstanceView
	if doErr := s.do(func() {
		views = make([]InstanceView, 0, len(s.instances))
		for _, inst := range s.instances {
			views = append(views, s.view(inst))
		}
		sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	}); doErr != nil {
		return nil, doErr
	}
	return views, nil
}

// GetInstance returns one instance snapshot.
func (s *Scheduler) GetInstance(id string) (InstanceView, error) {
	var (
		view InstanceView
		err  error
	)
	if doErr := s.do(func() {
		inst, ok := s.instances[id]
		if !ok {
			err = fmt.Errorf("%w: %q", ErrUnknownInstance, id)
			return
		}
		view = s.view(inst)
	}); doErr != nil {
		return InstanceView{}, doErr
	}
	return view, err
}

// view builds an API snapshot. Runs on the scheduler goroutine.
func (s *Scheduler) view(inst *Instance) InstanceView {
	v := InstanceView{
		ID:             inst.ID,
		TypeKey:        inst.TypeKey,
		Name:           inst.Name,
		PageID:         inst.PageID,
		Enabled:        inst.Enabled,
		Unloadable:     inst.Unloadable,
		State:          inst.State,
		DisabledReason: inst.DisabledReason,
		TimedOut:       inst.timedOut,
		Inputs:         make(map[string]bus.Value, len(inst.inputs)),
		Outputs:        make(map[string]bus.Value, len(inst.outputs)),
		InputBindings:  map[string]string{},
		OutputBindings: map[string]string{},
		Debug:          inst.debug.snapshot(),
	}
	if !inst.Unloadable {
		v.TypeID = inst.desc.ID
		v.Remanent = inst.desc.Remanent
	}
	for port, val := range inst.inputs {
		v.Inputs[port] = val
	}
	for port, val := range inst.outputs {
		v.Outputs[port] = val
	}
	for _, b := range s.table.BindingsFor(inst.ID) {
		if b.Direction == binding.DirectionInput {
			v.InputBindings[b.Port] = b.AddressKey
		} else {
			v.OutputBindings[b.Port] = b.AddressKey
		}
	}
	if !inst.lastExecuted.IsZero() {
		t := inst.lastExecuted
		v.LastExecuted = &t
	}
	return v
}

// ReloadCustomBlocks re-scans the custom-blocks directory, restarts
// running instances of user types with their fresh definitions, and
// materialises previously unloadable instances whose type appeared.
func (s *Scheduler) ReloadCustomBlocks() (int, error) {
	var (
		n   int
		err error
	)
	if doErr := s.do(func() { n, err = s.reloadCustomBlocks() }); doErr != nil {
		return 0, doErr
	}
	return n, err
}

func (s *Scheduler) reloadCustomBlocks() (int, error) {
	n, err := s.registry.LoadFromPath(s.cfg.CustomBlocksDir)
	if err != nil {
		return 0, err
	}

	changed := false
	for _, inst := range s.instances {
		if inst.Unloadable {
			// A type that appeared can now be materialised.
			if s.materialise(inst) {
				changed = true
			}
			continue
		}
		if inst.desc.Builtin {
			continue
		}
		// Restart running user-type instances with the new definition,
		// preserving bindings, page assignment and input values.
		typ, resolveErr := s.registry.Resolve(inst.TypeKey)
		if resolveErr != nil {
			s.logger.Warn("block type disappeared on reload, instance kept",
				"instance", inst.ID, "type", inst.TypeKey)
			continue
		}
		s.restartWith(inst, typ)
		changed = true
	}
	if changed {
		s.markDirty()
	}
	return n, nil
}

// restartWith swaps an instance's block for a fresh one of the given
// type, keeping its values.
func (s *Scheduler) restartWith(inst *Instance, typ block.Type) {
	s.stopInstance(inst)

	inst.typ = typ
	inst.desc = typ.Descriptor()
	inst.blk = typ.New()
	inst.done = make(chan struct{})
	inst.State = StateUnloaded
	inst.timedOut = false

	if err := s.startInstance(inst); err != nil {
		s.logger.Error("block restart failed", "instance", inst.ID, "error", err)
		inst.State = StateDisabled
		inst.DisabledReason = ReasonRepeatedFailure
		return
	}
	inst.State = StateReady
	s.enqueue(inst, block.TriggerInitial)
	s.logger.Info("block restarted with reloaded type", "instance", inst.ID, "type", inst.TypeKey)
}

// materialise upgrades an unloadable instance whose type is now known.
func (s *Scheduler) materialise(inst *Instance) bool {
	typ, err := s.registry.Resolve(inst.TypeKey)
	if err != nil {
		return false
	}

	inst.typ = typ
	inst.desc = typ.Descriptor()
	inst.blk = typ.New()
	inst.Unloadable = false
	inst.done = make(chan struct{})

	// Restore persisted values against the now-known schema.
	for port, v := range inst.raw.InputValues {
		if _, ok := inst.desc.Inputs[port]; ok {
			inst.inputs[port] = v
			inst.lastDelivered[port] = v
		}
	}
	for port, v := range inst.raw.OutputValues {
		if _, ok := inst.desc.Outputs[port]; ok {
			inst.outputs[port] = v
		}
	}

	if inst.desc.Remanent && inst.retainedRemanent != nil {
		inst.State = StateRestoring
		if rem, ok := inst.blk.(block.Remanent); ok {
			if err := rem.RestoreState(inst.retainedRemanent); err != nil {
				s.logger.Warn("remanent restore failed", "instance", inst.ID, "error", err)
			}
		}
	}

	if err := s.startInstance(inst); err != nil {
		s.logger.Error("materialised block failed to start", "instance", inst.ID, "error", err)
		inst.Unloadable = true
		return false
	}
	inst.State = StateReady
	s.events.BlockLifecycle(inst.ID, StateReady, "")
	if inst.Enabled {
		s.enqueue(inst, block.TriggerInitial)
	}
	s.logger.Info("unloadable block materialised", "instance", inst.ID, "type", inst.TypeKey)
	return true
}

// Checkpoint forces a remanent snapshot now.
func (s *Scheduler) Checkpoint() error {
	var err error
	if doErr := s.do(func() { err = s.checkpoint() }); doErr != nil {
		return doErr
	}
	return err
}

// DebugRing returns the debug entries of an instance.
func (s *Scheduler) DebugRing(id string) ([]DebugEntry, error) {
	var (
		entries []DebugEntry
		err     error
	)
	if doErr := s.do(func() {
		inst, ok := s.instances[id]
		if !ok {
			err = fmt.Errorf("%w: %q", ErrUnknownInstance, id)
			return
		}
		entries = inst.debug.snapshot()
	}); doErr != nil {
		return nil, doErr
	}
	return entries, err
}

// binding.Instances implementation. Called from the binding table,
// which only runs inside scheduler commands.

// PortInfo reports whether a port exists on an instance.
func (s *Scheduler) PortInfo(instanceID, port string, dir binding.Direction) (exists, unloadable bool, err error) {
	inst, ok := s.instances[instanceID]
	if !ok {
		return false, false, fmt.Errorf("%w: %q", ErrUnknownInstance, instanceID)
	}
	if inst.Unloadable {
		return false, true, nil
	}
	if dir == binding.DirectionInput {
		_, exists = inst.desc.Inputs[port]
	} else {
		_, exists = inst.desc.Outputs[port]
	}
	return exists, false, nil
}

// SourceInfo derives the IKO naming inputs for a BLOCK: shorthand
// source: the short instance number extracted from the instance id and
// the type key.
func (s *Scheduler) SourceInfo(instanceID string) (shortNum, typeName string, err error) {
	inst, ok := s.instances[instanceID]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownInstance, instanceID)
	}
	return extractShortNum(instanceID), inst.TypeKey, nil
}

// extractShortNum pulls the deterministic short number out of an
// instance id of the form "<typeid>_<type>_<n>_<suffix>". Ids in other
// shapes fall back to "0".
func extractShortNum(id string) string {
	parts := strings.Split(id, "_")
	if len(parts) >= 3 {
		return parts[len(parts)-2]
	}
	return "0"
}

// Pages.

// CreatePage creates a page.
func (s *Scheduler) CreatePage(p Page) (Page, error) {
	var err error
	if doErr := s.do(func() {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if _, exists := s.pages[p.ID]; exists {
			err = fmt.Errorf("%w: %q", ErrPageExists, p.ID)
			return
		}
		s.pages[p.ID] = p
		s.markDirty()
	}); doErr != nil {
		return Page{}, doErr
	}
	return p, err
}

// UpdatePage patches a page's name and description.
func (s *Scheduler) UpdatePage(id string, name, description *string) (Page, error) {
	var (
		page Page
		err  error
	)
	if doErr := s.do(func() {
		p, ok := s.pages[id]
		if !ok {
			err = fmt.Errorf("%w: %q", ErrPageNotFound, id)
			return
		}
		if name != nil {
			p.Name = *name
		}
		if description != nil {
			p.Description = *description
		}
		s.pages[id] = p
		page = p
		s.markDirty()
	}); doErr != nil {
		return Page{}, doErr
	}
	return page, err
}

// DeletePage removes a page and every block instance on it.
func (s *Scheduler) DeletePage(id string) error {
	var err error
	if doErr := s.do(func() {
		if _, ok := s.pages[id]; !ok {
			err = fmt.Errorf("%w: %q", ErrPageNotFound, id)
			return
		}
		for instID, inst := range s.instances {
			if inst.PageID != id {
				continue
			}
			s.stopInstance(inst)
			s.table.UnbindInstance(instID)
			delete(s.instances, instID)
			delete(s.positions, instID)
		}
		delete(s.pages, id)
		s.markDirty()
	}); doErr != nil {
		return doErr
	}
	return err
}

// ListPages returns all pages sorted by id.
func (s *Scheduler) ListPages() ([]Page, error) {
	var pages []Page
	if doErr := s.do(func() {
		pages = make([]Page, 0, len(s.pages))
		for _, p := range s.pages {
			pages = append(pages, p)
		}
		sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
	}); doErr != nil {
		return nil, doErr
	}
	return pages, nil
}

// Positions returns the advisory editor positions.
func (s *Scheduler) Positions() (map[string]logicstore.Position, error) {
	var out map[string]logicstore.Position
	if doErr := s.do(func() {
		out = make(map[string]logicstore.Position, len(s.positions))
		for k, v := range s.positions {
			out[k] = v
		}
	}); doErr != nil {
		return nil, doErr
	}
	return out, nil
}

// SetPositions merges editor positions for the given instances.
func (s *Scheduler) SetPositions(positions map[string]logicstore.Position) error {
	return s.do(func() {
		for id, pos := range positions {
			s.positions[id] = pos
		}
		s.markDirty()
	})
}

// HandleInbound delivers a decoded telegram from the KNX driver.
// Called from the driver's receive goroutine; fire-and-forget.
func (s *Scheduler) HandleInbound(key string, value bus.Value) {
	s.postAsync(func() {
		if _, err := s.writeBus(key, value, bus.OriginKNXIn); err != nil {
			s.logger.Warn("inbound telegram dropped", "address", key, "error", err)
		}
	})
}

// ExportBackup assembles the single-document backup.
func (s *Scheduler) ExportBackup() (*logicstore.Backup, error) {
	var (
		backup *logicstore.Backup
		err    error
	)
	if doErr := s.do(func() {
		custom, cErr := logicstore.CollectCustomBlocks(s.cfg.CustomBlocksDir)
		if cErr != nil {
			err = cErr
			return
		}
		snapshot := s.remanentSnapshot()
		backup = logicstore.NewBackup(s.bus.List(bus.Filter{}), s.buildFile(), snapshot, custom)
	}); doErr != nil {
		return nil, doErr
	}
	return backup, err
}

// remanentSnapshot captures current remanent state without writing it.
func (s *Scheduler) remanentSnapshot() map[string]json.RawMessage {
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
		if rem, ok := inst.blk.(block.Remanent); ok {
			if state, err := rem.RemanentState(); err == nil && state != nil {
				snapshot[id] = state
			}
		}
	}
	return snapshot
}
