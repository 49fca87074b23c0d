package bus

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger defines the logging interface used by the bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RefChecker reports whether any binding still references an address.
// The binding table implements this; the bus consults it before delete.
type RefChecker interface {
	HasReferences(addressKey string) bool
}

// Repository persists address records. The bus works without one (all
// state in memory); when set, mutations are written through and load
// restores the address map at startup.
type Repository interface {
	List(ctx context.Context) ([]Address, error)
	Upsert(ctx context.Context, addr Address) error
	UpdateValue(ctx context.Context, key string, value Value, updated time.Time) error
	Delete(ctx context.Context, key string) error
}

// Publisher receives every telegram the bus produces, in bus order.
// The Broadcaster implements this.
type Publisher interface {
	Publish(Telegram)
}

// Bus is the canonical address store.
//
// Thread Safety: all methods are safe for concurrent use. Writes are
// serialised per bus (a coarse lock); publication happens under the
// lock so every subscriber observes the same telegram order.
type Bus struct {
	mu    sync.RWMutex
	addrs map[string]*Address // keyed by Normalize(key)

	refs   RefChecker
	repo   Repository
	pub    Publisher
	logger Logger
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		addrs:  make(map[string]*Address),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) { b.logger = logger }

// SetRefChecker wires the binding table's reference check into delete.
func (b *Bus) SetRefChecker(refs RefChecker) { b.refs = refs }

// SetRepository wires write-through persistence.
func (b *Bus) SetRepository(repo Repository) { b.repo = repo }

// SetPublisher wires the telegram broadcaster.
func (b *Bus) SetPublisher(pub Publisher) { b.pub = pub }

// LoadFromRepository replaces the in-memory address map with the
// persisted records. Called once at startup, before the scheduler runs.
func (b *Bus) LoadFromRepository(ctx context.Context) error {
	if b.repo == nil {
		return nil
	}
	addrs, err := b.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading addresses: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.addrs = make(map[string]*Address, len(addrs))
	for i := range addrs {
		a := addrs[i]
		b.addrs[Normalize(a.Key)] = &a
	}
	b.logger.Info("address bus loaded", "addresses", len(addrs))
	return nil
}

// Get retrieves an address by key.
// Returns ErrNotFound if the key does not exist.
func (b *Bus) Get(key string) (Address, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.addrs[Normalize(key)]
	if !ok {
		return Address{}, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return *a, nil
}

// List returns all addresses matching the filter, sorted by key.
func (b *Bus) List(filter Filter) []Address {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Address, 0, len(b.addrs))
	prefix := Normalize(filter.KeyPrefix)
	for norm, a := range b.addrs {
		if filter.Internal != nil && a.Internal != *filter.Internal {
			continue
		}
		if filter.GroupLabel != "" && a.GroupLabel != filter.GroupLabel {
			continue
		}
		if prefix != "" && !strings.HasPrefix(norm, prefix) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Create adds a new address.
// Returns ErrConflict if the key already exists (case-insensitive),
// ErrInvalidKey if the key matches neither syntax or if Internal is set
// on a key that is not an IKO key. The stored internal flag always
// follows the key syntax.
func (b *Bus) Create(desc Descriptor) (Address, error) {
	addr, err := b.buildAddress(desc)
	if err != nil {
		return Address{}, err
	}

	b.mu.Lock()
	norm := Normalize(addr.Key)
	if _, exists := b.addrs[norm]; exists {
		b.mu.Unlock()
		return Address{}, fmt.Errorf("%w: %q", ErrConflict, desc.Key)
	}
	b.addrs[norm] = &addr
	b.mu.Unlock()

	b.persistUpsert(addr)
	b.logger.Info("address created", "key", addr.Key, "internal", addr.Internal)
	return addr, nil
}

// Ensure returns the existing address for the key, creating it when
// absent. Unlike Create it never fails on a key collision (idempotent),
// which is what the binding table's auto-create path relies on.
func (b *Bus) Ensure(desc Descriptor) (Address, error) {
	b.mu.RLock()
	if a, ok := b.addrs[Normalize(desc.Key)]; ok {
		out := *a
		b.mu.RUnlock()
		return out, nil
	}
	b.mu.RUnlock()

	addr, err := b.Create(desc)
	if err == nil {
		return addr, nil
	}
	// Lost a race: somebody created it between the check and Create.
	if existing, getErr := b.Get(desc.Key); getErr == nil {
		return existing, nil
	}
	return Address{}, err
}

// Update applies a partial patch to an address.
func (b *Bus) Update(key string, patch Patch) (Address, error) {
	b.mu.Lock()
	a, ok := b.addrs[Normalize(key)]
	if !ok {
		b.mu.Unlock()
		return Address{}, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.DPT != nil {
		a.DPT = *patch.DPT
	}
	if patch.GroupLabel != nil {
		a.GroupLabel = *patch.GroupLabel
	}
	a.UpdatedAt = time.Now().UTC()
	out := *a
	b.mu.Unlock()

	b.persistUpsert(out)
	return out, nil
}

// Delete removes an address.
// Returns ErrInUse when any binding still references the key; callers
// must unbind first so user intent is never silently discarded.
func (b *Bus) Delete(key string) error {
	norm := Normalize(key)

	b.mu.Lock()
	a, ok := b.addrs[norm]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if b.refs != nil && b.refs.HasReferences(a.Key) {
		b.mu.Unlock()
		return fmt.Errorf("%w: %q is bound to at least one block port", ErrInUse, key)
	}
	delete(b.addrs, norm)
	b.mu.Unlock()

	if b.repo != nil {
		if err := b.repo.Delete(context.Background(), a.Key); err != nil {
			b.logger.Error("address delete not persisted", "key", a.Key, "error", err)
		}
	}
	b.logger.Info("address deleted", "key", a.Key)
	return nil
}

// Restore replaces the whole address map, persisting every record.
// Used by backup import; no telegrams are produced.
func (b *Bus) Restore(addrs []Address) error {
	b.mu.Lock()
	b.addrs = make(map[string]*Address, len(addrs))
	for i := range addrs {
		a := addrs[i]
		if _, err := ValidateKey(a.Key); err != nil {
			b.mu.Unlock()
			return fmt.Errorf("restoring address %q: %w", a.Key, err)
		}
		b.addrs[Normalize(a.Key)] = &a
	}
	b.mu.Unlock()

	for _, a := range addrs {
		b.persistUpsert(a)
	}
	b.logger.Info("address bus restored", "addresses", len(addrs))
	return nil
}

// Write records a value change and publishes the resulting telegram.
//
// Rules:
//   - A write produces exactly one telegram even when the value equals
//     the previous value, unless origin is OriginBlockOut: a block-out
//     write with an unchanged value is suppressed (nil telegram, no
//     error). This is the cycle breaker for degenerate feedback loops.
//   - Unknown internal keys are created on the fly (a block may write
//     to an IKO before the editor declares it); unknown external keys
//     are an error.
//   - When the address declares a DPT, the value must be representable
//     in it (ErrTypeCoercion otherwise).
//
// The returned telegram is nil when the write was suppressed.
func (b *Bus) Write(key string, value Value, origin Origin) (*Telegram, error) {
	b.mu.Lock()
	a, ok := b.addrs[Normalize(key)]
	if !ok {
		internal, err := ValidateKey(key)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		if !internal {
			b.mu.Unlock()
			return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		// Auto-create the IKO so block plumbing works before the
		// address is declared explicitly.
		now := time.Now().UTC()
		a = &Address{
			Key:       strings.TrimSpace(key),
			Name:      "Auto: " + strings.TrimSpace(key),
			Internal:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		b.addrs[Normalize(key)] = a
		b.logger.Info("internal address auto-created", "key", a.Key)
	}

	if err := checkDPT(a.DPT, value); err != nil {
		b.mu.Unlock()
		return nil, err
	}

	if origin == OriginBlockOut && value.Equal(a.LastValue) {
		b.mu.Unlock()
		b.logger.Debug("block-out write suppressed", "key", a.Key, "value", value.Text())
		return nil, nil
	}

	now := time.Now().UTC()
	if now.Before(a.LastUpdated) {
		// Clock went backwards; keep last_updated monotonic.
		now = a.LastUpdated
	}

	tel := Telegram{
		Timestamp: now,
		Address:   a.Key,
		OldValue:  a.LastValue,
		NewValue:  value,
		Origin:    origin,
	}
	a.LastValue = value
	a.LastUpdated = now

	// Publish under the lock: per-address telegram order must match
	// write order for every subscriber.
	if b.pub != nil {
		b.pub.Publish(tel)
	}
	b.mu.Unlock()

	if b.repo != nil {
		if err := b.repo.UpdateValue(context.Background(), tel.Address, value, now); err != nil {
			// In-memory state stays authoritative; persistence catches
			// up on the next successful write.
			b.logger.Error("address value not persisted", "key", tel.Address, "error", err)
		}
	}

	return &tel, nil
}

// RecordFailed publishes a failed telegram for a write that could not
// be delivered to the external driver. The address value is unchanged.
func (b *Bus) RecordFailed(key string, value Value, origin Origin) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.addrs[Normalize(key)]
	if !ok {
		return
	}
	tel := Telegram{
		Timestamp: time.Now().UTC(),
		Address:   a.Key,
		OldValue:  a.LastValue,
		NewValue:  value,
		Origin:    origin,
		Failed:    true,
	}
	if b.pub != nil {
		b.pub.Publish(tel)
	}
}

// buildAddress validates a descriptor and builds the address record.
func (b *Bus) buildAddress(desc Descriptor) (Address, error) {
	key := strings.TrimSpace(desc.Key)
	internal, err := ValidateKey(key)
	if err != nil {
		return Address{}, err
	}
	if desc.Internal && !internal {
		return Address{}, fmt.Errorf("%w: %q is not an IKO key but marked internal", ErrInvalidKey, key)
	}

	now := time.Now().UTC()
	addr := Address{
		Key:          key,
		Name:         desc.Name,
		DPT:          desc.DPT,
		Internal:     internal,
		GroupLabel:   desc.GroupLabel,
		InitialValue: desc.InitialValue,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if addr.Name == "" {
		addr.Name = key
	}
	if desc.InitialValue != nil {
		if err := checkDPT(addr.DPT, *desc.InitialValue); err != nil {
			return Address{}, err
		}
		addr.LastValue = *desc.InitialValue
		addr.LastUpdated = now
	}
	return addr, nil
}

// persistUpsert writes an address record through to the repository.
// Persistence failures degrade gracefully: memory stays authoritative.
func (b *Bus) persistUpsert(addr Address) {
	if b.repo == nil {
		return
	}
	if err := b.repo.Upsert(context.Background(), addr); err != nil {
		b.logger.Error("address not persisted", "key", addr.Key, "error", err)
	}
}

// checkDPT verifies a value is representable in the declared datapoint
// type. An empty DPT accepts anything; null clears any address.
func checkDPT(dpt string, v Value) error {
	if dpt == "" || v.IsNull() {
		return nil
	}
	family := dpt
	if idx := strings.Index(dpt, "."); idx > 0 {
		family = dpt[:idx]
	}
	switch family {
	case "1": // 1-bit boolean
		if _, ok := v.AsBool(); !ok {
			return fmt.Errorf("%w: %q is not a boolean (DPT %s)", ErrTypeCoercion, v.Text(), dpt)
		}
	case "5", "6", "7", "8", "12", "13", "17", "18": // integer families
		if _, ok := v.AsInt(); !ok {
			return fmt.Errorf("%w: %q is not an integer (DPT %s)", ErrTypeCoercion, v.Text(), dpt)
		}
	case "9", "14": // float families
		if _, ok := v.AsReal(); !ok {
			return fmt.Errorf("%w: %q is not a number (DPT %s)", ErrTypeCoercion, v.Text(), dpt)
		}
	case "16": // 14-byte string
		// Any scalar has a textual form.
	default:
		// Unknown family: accept, the gateway will refuse what it
		// cannot transcode.
	}
	return nil
}
