package runtime

import (
	"encoding/json"
	"sort"

	"github.com/nerrad567/gray-logic-runtime/internal/binding"
	"github.com/nerrad567/gray-logic-runtime/internal/block"
	"github.com/nerrad567/gray-logic-runtime/internal/bus"
	"github.com/nerrad567/gray-logic-runtime/internal/logicstore"
)

// Load restores the persisted configuration into the scheduler. It
// must be called once, before Run starts the loop: it touches
// scheduler state directly.
//
// Loading is lenient. An instance whose type is unknown becomes an
// unloadable placeholder with its serialised form and bindings intact;
// unknown ports on loadable instances produce warnings; nothing is
// silently dropped. The config file is re-saved only when the
// in-memory representation differs from what was read.
func (s *Scheduler) Load() error {
	if s.cfg.CustomBlocksDir != "" {
		n, err := s.registry.LoadFromPath(s.cfg.CustomBlocksDir)
		if err != nil {
			return err
		}
		s.logger.Info("custom block types loaded", "count", n, "dir", s.cfg.CustomBlocksDir)
	}

	var file *logicstore.File
	if s.store != nil {
		loaded, err := s.store.Load()
		if err != nil {
			return err
		}
		file = loaded
	} else {
		file = &logicstore.File{Positions: map[string]logicstore.Position{}}
	}

	snapshot := map[string]json.RawMessage{}
	if s.remanent != nil {
		loaded, err := s.remanent.Load()
		if err != nil {
			// A corrupt snapshot is refused but must not block boot;
			// the file stays on disk for inspection.
			s.logger.Error("remanent snapshot unusable, starting without it", "error", err)
		} else {
			snapshot = loaded
		}
	}

	changed := s.applyFile(file, snapshot)
	if changed {
		s.markDirty()
	}

	s.logger.Info("logic configuration loaded",
		"blocks", len(s.instances), "pages", len(s.pages))
	return nil
}

// applyFile builds scheduler state from a config document. Reports
// whether the in-memory representation differs from the document.
func (s *Scheduler) applyFile(file *logicstore.File, snapshot map[string]json.RawMessage) bool {
	changed := false

	for _, p := range file.Pages {
		s.pages[p.ID] = Page{ID: p.ID, Name: p.Name, Description: p.Description}
	}
	for id, pos := range file.Positions {
		s.positions[id] = pos
	}

	// Create all instances first so BLOCK-derived bindings can resolve
	// their source instances.
	for _, entry := range file.Blocks {
		s.loadEntry(entry, snapshot)
	}

	// Register bindings.
	for _, entry := range file.Blocks {
		if s.registerBindings(entry) {
			changed = true
		}
	}

	// Seed inputs from current address values, then queue the initial
	// execution for every runnable instance.
	for _, inst := range s.sortedInstances() {
		if inst.Unloadable {
			continue
		}
		for _, b := range s.table.BindingsFor(inst.ID) {
			if b.Direction != binding.DirectionInput {
				continue
			}
			if addr, err := s.bus.Get(b.AddressKey); err == nil && !addr.LastValue.IsNull() {
				s.deliverInput(inst, b.Port, addr.LastValue)
			}
		}
		if inst.Enabled {
			s.enqueue(inst, block.TriggerInitial)
		}
	}

	return changed
}

// loadEntry creates one instance from its persisted form.
func (s *Scheduler) loadEntry(entry logicstore.BlockEntry, snapshot map[string]json.RawMessage) {
	if entry.InstanceID == "" {
		s.logger.Warn("block entry without instance id skipped")
		return
	}
	if _, dup := s.instances[entry.InstanceID]; dup {
		s.logger.Warn("duplicate instance id in config, first entry wins", "instance", entry.InstanceID)
		return
	}

	typ, err := s.registry.Resolve(entry.BlockType)
	if err != nil {
		// Retain the instance in its serialised form: visible, not
		// schedulable, never silently dropped.
		inst := &Instance{
			ID:               entry.InstanceID,
			TypeKey:          entry.BlockType,
			Name:             entry.Name,
			PageID:           entry.PageID,
			Enabled:          entry.Enabled,
			State:            StateUnloaded,
			Unloadable:       true,
			raw:              entry,
			inputs:           valuesOrEmpty(entry.InputValues),
			outputs:          valuesOrEmpty(entry.OutputValues),
			lastDelivered:    make(map[string]bus.Value),
			debug:            newDebugRing(),
			retainedRemanent: snapshot[entry.InstanceID],
			done:             make(chan struct{}),
		}
		s.instances[entry.InstanceID] = inst
		s.logger.Warn("block type unavailable, instance retained as unloadable",
			"instance", entry.InstanceID, "type", entry.BlockType)
		return
	}

	desc := typ.Descriptor()
	inst := s.newInstance(entry.InstanceID, typ, desc)
	inst.Name = entry.Name
	inst.PageID = entry.PageID
	inst.Enabled = entry.Enabled
	inst.raw = entry
	s.instances[entry.InstanceID] = inst

	// Restore values against the schema before anything executes.
	for port, v := range entry.InputValues {
		if _, ok := desc.Inputs[port]; !ok {
			s.logger.Warn("persisted value for unknown input port ignored",
				"instance", inst.ID, "port", port)
			continue
		}
		inst.inputs[port] = v
		inst.lastDelivered[port] = v
	}
	for port, v := range entry.OutputValues {
		if _, ok := desc.Outputs[port]; ok {
			inst.outputs[port] = v
		}
	}

	// Remanent restore runs before Start so the block wakes up with
	// its prior state.
	if desc.Remanent {
		if blob, ok := snapshot[inst.ID]; ok {
			inst.State = StateRestoring
			if rem, isRem := inst.blk.(block.Remanent); isRem {
				if err := rem.RestoreState(blob); err != nil {
					s.logger.Warn("remanent restore failed", "instance", inst.ID, "error", err)
				}
			}
		}
	}

	if err := s.startInstance(inst); err != nil {
		s.logger.Error("block start failed at load", "instance", inst.ID, "error", err)
		inst.State = StateDisabled
		inst.DisabledReason = ReasonRepeatedFailure
		return
	}
	inst.State = StateReady
}

// registerBindings wires one entry's persisted bindings into the
// table. Reports whether any binding had to be dropped (representation
// changed).
func (s *Scheduler) registerBindings(entry logicstore.BlockEntry) bool {
	changed := false
	bind := func(port, addr string, dir binding.Direction) {
		if addr == "" {
			return
		}
		if _, err := s.table.Bind(entry.InstanceID, port, dir, addr, binding.AutoCreateEnsure); err != nil {
			// Unknown ports (and any other rejected binding) demote to
			// warnings at load time: the block still runs.
			s.logger.Warn("persisted binding dropped",
				"instance", entry.InstanceID, "port", port, "address", addr, "error", err)
			changed = true
		}
	}
	for port, addr := range entry.InputBindings {
		bind(port, addr, binding.DirectionInput)
	}
	for port, addr := range entry.OutputBindings {
		bind(port, addr, binding.DirectionOutput)
	}
	return changed
}

// sortedInstances returns instances in id order for deterministic
// startup behaviour.
func (s *Scheduler) sortedInstances() []*Instance {
	out := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// buildFile snapshots the configuration for persistence. Unloadable
// instances round-trip their serialised form verbatim; loadable ones
// re-serialise from live state while preserving foreign fields.
func (s *Scheduler) buildFile() *logicstore.File {
	f := &logicstore.File{
		Positions: make(map[string]logicstore.Position, len(s.positions)),
	}
	for id, pos := range s.positions {
		f.Positions[id] = pos
	}

	pageIDs := make([]string, 0, len(s.pages))
	for id := range s.pages {
		pageIDs = append(pageIDs, id)
	}
	sort.Strings(pageIDs)
	for _, id := range pageIDs {
		p := s.pages[id]
		f.Pages = append(f.Pages, logicstore.Page{ID: p.ID, Name: p.Name, Description: p.Description})
	}

	for _, inst := range s.sortedInstances() {
		if inst.Unloadable {
			f.Blocks = append(f.Blocks, inst.raw)
			continue
		}

		entry := logicstore.BlockEntry{
			InstanceID:     inst.ID,
			BlockType:      inst.TypeKey,
			Name:           inst.Name,
			PageID:         inst.PageID,
			Enabled:        inst.Enabled,
			InputValues:    make(map[string]bus.Value, len(inst.inputs)),
			OutputValues:   make(map[string]bus.Value, len(inst.outputs)),
			InputBindings:  map[string]string{},
			OutputBindings: map[string]string{},
			Extra:          inst.raw.Extra,
		}
		for port, v := range inst.inputs {
			entry.InputValues[port] = v
		}
		for port, v := range inst.outputs {
			entry.OutputValues[port] = v
		}
		for _, b := range s.table.BindingsFor(inst.ID) {
			if b.Direction == binding.DirectionInput {
				entry.InputBindings[b.Port] = b.AddressKey
			} else {
				entry.OutputBindings[b.Port] = b.AddressKey
			}
		}
		f.Blocks = append(f.Blocks, entry)
	}
	return f
}

// ImportBackup replaces the whole configuration with a backup
// document: addresses, logic config, remanent state and custom block
// definitions.
func (s *Scheduler) ImportBackup(backup *logicstore.Backup) error {
	var err error
	if doErr := s.do(func() { err = s.importBackup(backup) }); doErr != nil {
		return doErr
	}
	return err
}

func (s *Scheduler) importBackup(backup *logicstore.Backup) error {
	// Tear down current instances.
	for id, inst := range s.instances {
		s.stopInstance(inst)
		s.table.UnbindInstance(id)
	}
	s.instances = make(map[string]*Instance)
	s.pages = make(map[string]Page)
	s.positions = make(map[string]logicstore.Position)
	s.queue = nil

	// Addresses replace the bus content wholesale.
	if err := s.bus.Restore(backup.Addresses); err != nil {
		return err
	}

	// Custom block definitions land on disk before types resolve.
	if s.cfg.CustomBlocksDir != "" {
		if err := logicstore.RestoreCustomBlocks(s.cfg.CustomBlocksDir, backup.CustomBlocks); err != nil {
			return err
		}
		if _, err := s.registry.LoadFromPath(s.cfg.CustomBlocksDir); err != nil {
			return err
		}
	}

	// Persist the restored remanent snapshot, then rebuild.
	if s.remanent != nil {
		if err := s.remanent.Write(backup.Remanent); err != nil {
			return err
		}
	}

	s.applyFile(backup.Logic, backup.Remanent)
	s.markDirty()
	s.logger.Info("backup imported",
		"addresses", len(backup.Addresses), "blocks", len(backup.Logic.Blocks))
	return nil
}

// valuesOrEmpty clones a persisted value map, never returning nil.
func valuesOrEmpty(m map[string]bus.Value) map[string]bus.Value {
	out := make(map[string]bus.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
