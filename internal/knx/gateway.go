package knx

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// sendTimeout bounds one outbound driver write.
const sendTimeout = 3 * time.Second

// Gateway routes commanded value writes.
//
// Internal addresses loop straight back through the bus. External
// addresses are recorded on the bus first (which also applies the
// unchanged-block-out suppression), then transcoded to the declared
// DPT and handed to the driver. Driver failures surface to the caller
// and are recorded as failed telegrams; there are no retries here,
// retrying is a block-level concern.
//
// The gateway satisfies the scheduler's BusWriter, so every write in
// the system takes the same path.
type Gateway struct {
	bus    *bus.Bus
	driver Driver
	logger Logger
}

// NewGateway creates a gateway. The driver may be nil (no KNX link
// configured); external writes then only update the bus.
func NewGateway(addressBus *bus.Bus, driver Driver) *Gateway {
	return &Gateway{bus: addressBus, driver: driver, logger: noopLogger{}}
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// Write records a value change and forwards it to the KNX bus when the
// address is external.
//
// The returned telegram is nil when the bus suppressed the write
// (unchanged block-out value); nothing is sent externally in that case
// either, which is the cycle-break guarantee for external addresses.
func (g *Gateway) Write(key string, value bus.Value, origin bus.Origin) (*bus.Telegram, error) {
	if bus.IsInternalKey(key) {
		return g.bus.Write(key, value, origin)
	}

	addr, err := g.bus.Get(key)
	if err != nil {
		return nil, err
	}

	// Transcode before touching any state so a bad value fails clean.
	var payload []byte
	if g.driver != nil {
		payload, err = EncodeValue(value, addr.DPT)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", bus.ErrTypeCoercion, err)
		}
	}

	tel, err := g.bus.Write(key, value, origin)
	if err != nil {
		return nil, err
	}
	if tel == nil {
		return nil, nil // suppressed, nothing leaves the process
	}

	if g.driver == nil {
		g.logger.Debug("no KNX driver, external write recorded only", "address", key)
		return tel, nil
	}

	ga, err := ParseGroupAddress(key)
	if err != nil {
		return tel, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := g.driver.Send(ctx, ga, payload); err != nil {
		g.bus.RecordFailed(key, value, origin)
		g.logger.Error("KNX send failed", "address", key, "error", err)
		return tel, fmt.Errorf("sending to %s: %w", key, err)
	}
	return tel, nil
}

// DecodeInbound maps a driver telegram onto a bus address and value.
// Telegrams for group addresses the bus does not know are ignored
// (ok=false): the installation carries more traffic than the logic
// uses.
func (g *Gateway) DecodeInbound(t Telegram) (key string, value bus.Value, ok bool) {
	if !t.IsWrite() && !t.IsResponse() {
		return "", bus.Null(), false
	}

	key = t.Destination.String()
	addr, err := g.bus.Get(key)
	if err != nil {
		return "", bus.Null(), false
	}

	value, err = DecodeValue(t.Data, addr.DPT)
	if err != nil {
		g.logger.Warn("inbound telegram decode failed",
			"address", key, "dpt", addr.DPT, "error", err)
		return "", bus.Null(), false
	}
	return key, value, true
}
