package bus

import "time"

// Origin tags where a value change entered the bus.
type Origin string

// Telegram origins.
const (
	// OriginKNXIn marks values received from the external KNX bus.
	OriginKNXIn Origin = "knx-in"

	// OriginAPI marks values written through the HTTP API.
	OriginAPI Origin = "api"

	// OriginBlockOut marks values written by a block output port.
	// Block-out writes with an unchanged value are suppressed to
	// break trivial feedback cycles.
	OriginBlockOut Origin = "block-out"

	// OriginInternal marks internal IKO-to-IKO plumbing writes.
	OriginInternal Origin = "iko-internal"
)

// Address is a single entry on the bus: an external group address or an
// internal IKO, with its latest value.
type Address struct {
	// Key is the address key in its original spelling. Uniqueness is
	// case-insensitive (see Normalize).
	Key string `json:"key"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// DPT is the optional KNX datapoint-type hint (e.g. "1.001", "9.001").
	DPT string `json:"dpt,omitempty"`

	// Internal is true for IKO addresses that never leave the process.
	Internal bool `json:"internal"`

	// GroupLabel optionally clusters related IKOs in the editor.
	GroupLabel string `json:"group_label,omitempty"`

	// LastValue is the most recent value written to the address.
	LastValue Value `json:"last_value"`

	// LastUpdated is when LastValue was recorded. Monotonically
	// non-decreasing per address.
	LastUpdated time.Time `json:"last_updated"`

	// InitialValue, when set, seeds LastValue at creation time.
	InitialValue *Value `json:"initial_value,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Descriptor describes an address to create or ensure.
type Descriptor struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	DPT          string `json:"dpt,omitempty"`
	Internal     bool   `json:"internal"`
	GroupLabel   string `json:"group_label,omitempty"`
	InitialValue *Value `json:"initial_value,omitempty"`
}

// Patch carries partial updates for an address. Nil fields are left
// unchanged. The key itself cannot be patched.
type Patch struct {
	Name       *string `json:"name,omitempty"`
	DPT        *string `json:"dpt,omitempty"`
	GroupLabel *string `json:"group_label,omitempty"`
}

// Telegram records one value change on the bus.
type Telegram struct {
	// Timestamp is when the write was applied.
	Timestamp time.Time `json:"timestamp"`

	// Address is the written address key (original spelling).
	Address string `json:"address"`

	// OldValue is the value before the write.
	OldValue Value `json:"old_value"`

	// NewValue is the value after the write.
	NewValue Value `json:"new_value"`

	// Origin tags where the write came from.
	Origin Origin `json:"origin"`

	// Failed is true when the value could not be delivered to the
	// external KNX driver. The address value is left unchanged.
	Failed bool `json:"failed,omitempty"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	// Internal filters by the internal flag when non-nil.
	Internal *bool

	// GroupLabel matches the address group label exactly when non-empty.
	GroupLabel string

	// KeyPrefix matches keys case-insensitively by prefix when non-empty.
	KeyPrefix string
}
