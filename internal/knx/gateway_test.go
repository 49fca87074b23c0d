package knx

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// fakeDriver records sent telegrams and can simulate failures.
type fakeDriver struct {
	mu       sync.Mutex
	sent     []Telegram
	failNext bool
	callback func(Telegram)
}

func (d *fakeDriver) Send(_ context.Context, ga GroupAddress, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext {
		d.failNext = false
		return ErrTelegramFailed
	}
	d.sent = append(d.sent, NewWriteTelegram(ga, data))
	return nil
}

func (d *fakeDriver) SendRead(_ context.Context, ga GroupAddress) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, NewReadTelegram(ga))
	return nil
}

func (d *fakeDriver) SetOnTelegram(cb func(Telegram)) { d.callback = cb }
func (d *fakeDriver) IsConnected() bool               { return true }
func (d *fakeDriver) Close() error                    { return nil }

func (d *fakeDriver) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func newGatewayFixture(t *testing.T) (*Gateway, *bus.Bus, *fakeDriver, *bus.Broadcaster) {
	t.Helper()
	b := bus.New()
	br := bus.NewBroadcaster(500)
	b.SetPublisher(br)
	driver := &fakeDriver{}
	return NewGateway(b, driver), b, driver, br
}

func TestGatewayExternalWriteReachesDriver(t *testing.T) {
	g, b, driver, _ := newGatewayFixture(t)
	if _, err := b.Create(bus.Descriptor{Key: "1/1/1", DPT: "1.001"}); err != nil {
		t.Fatal(err)
	}

	tel, err := g.Write("1/1/1", bus.Bool(true), bus.OriginAPI)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if tel == nil {
		t.Fatal("api write must produce a telegram")
	}
	if driver.sentCount() != 1 {
		t.Fatalf("driver sent %d telegrams, want 1", driver.sentCount())
	}
	if driver.sent[0].Data[0] != 0x01 {
		t.Errorf("payload = %X", driver.sent[0].Data)
	}
}

func TestGatewayInternalWriteStaysLocal(t *testing.T) {
	g, _, driver, _ := newGatewayFixture(t)

	tel, err := g.Write("IKO:local:A1", bus.Int(5), bus.OriginBlockOut)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if tel == nil {
		t.Fatal("first write must publish")
	}
	if driver.sentCount() != 0 {
		t.Error("internal writes must never reach the driver")
	}
}

// TestGatewaySuppressedWriteNotSent is the external half of the
// cycle-break rule: an unchanged block-out write produces no telegram
// and nothing on the cable.
func TestGatewaySuppressedWriteNotSent(t *testing.T) {
	g, b, driver, _ := newGatewayFixture(t)
	if _, err := b.Create(bus.Descriptor{Key: "1/1/1", DPT: "1.001"}); err != nil {
		t.Fatal(err)
	}

	if _, err := g.Write("1/1/1", bus.Bool(true), bus.OriginBlockOut); err != nil {
		t.Fatal(err)
	}
	tel, err := g.Write("1/1/1", bus.Bool(true), bus.OriginBlockOut)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if tel != nil {
		t.Error("unchanged block-out write must be suppressed")
	}
	if driver.sentCount() != 1 {
		t.Errorf("driver sent %d telegrams, want 1", driver.sentCount())
	}
}

func TestGatewayDriverFailureSurfaces(t *testing.T) {
	g, b, driver, br := newGatewayFixture(t)
	if _, err := b.Create(bus.Descriptor{Key: "1/1/1", DPT: "1.001"}); err != nil {
		t.Fatal(err)
	}
	sub := br.Subscribe(8)
	defer br.Unsubscribe(sub)

	driver.failNext = true
	if _, err := g.Write("1/1/1", bus.Bool(true), bus.OriginAPI); err == nil {
		t.Fatal("driver failure must surface to the caller")
	}

	// The write telegram plus a failed telegram were recorded.
	var failed int
	for _i := 0; _i < 2; _i++ {
		select {
		case tel := <-sub.C:
			if tel.Failed {
				failed++
			}
		default:
		}
	}
	if failed != 1 {
		t.Errorf("failed telegrams = %d, want 1", failed)
	}
}

func TestGatewayTranscodeErrorBeforeState(t *testing.T) {
	g, b, driver, _ := newGatewayFixture(t)
	if _, err := b.Create(bus.Descriptor{Key: "1/5/1", DPT: "9.001"}); err != nil {
		t.Fatal(err)
	}

	_, err := g.Write("1/5/1", bus.String("warm"), bus.OriginAPI)
	if !errors.Is(err, bus.ErrTypeCoercion) {
		t.Fatalf("expected ErrTypeCoercion, got %v", err)
	}
	if driver.sentCount() != 0 {
		t.Error("nothing should reach the driver")
	}
	addr, _ := b.Get("1/5/1") //nolint:errcheck // created above
	if !addr.LastValue.IsNull() {
		t.Error("address state must be untouched after a transcode error")
	}
}

func TestGatewayDecodeInbound(t *testing.T) {
	g, b, _, _ := newGatewayFixture(t)
	if _, err := b.Create(bus.Descriptor{Key: "2/3/4", DPT: "9.001"}); err != nil {
		t.Fatal(err)
	}

	payload, err := EncodeDPT9(21.5)
	if err != nil {
		t.Fatal(err)
	}
	ga, err := ParseGroupAddress("2/3/4")
	if err != nil {
		t.Fatal(err)
	}

	key, value, ok := g.DecodeInbound(NewWriteTelegram(ga, payload))
	if !ok {
		t.Fatal("known address must decode")
	}
	if key != "2/3/4" {
		t.Errorf("key = %q", key)
	}
	if f, _ := value.AsReal(); f < 21.4 || f > 21.6 { //nolint:errcheck // DPT9 payload
		t.Errorf("value = %v", value.Text())
	}

	// Unknown addresses are ignored.
	if _, _, ok := g.DecodeInbound(NewWriteTelegram(GroupAddress{9, 9, 9}, payload)); ok {
		t.Error("unknown address must be ignored")
	}
	// Read requests are ignored.
	if _, _, ok := g.DecodeInbound(NewReadTelegram(ga)); ok {
		t.Error("read requests carry no value")
	}
}
