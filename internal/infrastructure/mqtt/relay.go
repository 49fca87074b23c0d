package mqtt

import (
	"encoding/json"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// relayBuffer is the relay's subscription depth. The broadcaster
// disconnects the relay if the broker cannot keep up; the relay then
// resubscribes and continues from the live stream.
const relayBuffer = 512

// TelegramRelay publishes every bus telegram to MQTT so external
// consumers (dashboards, recorders) can follow value changes without
// touching the runtime's API.
type TelegramRelay struct {
	client      *Client
	broadcaster *bus.Broadcaster
	logger      Logger
	stop        chan struct{}
}

// NewTelegramRelay creates a relay between the broadcaster and broker.
func NewTelegramRelay(client *Client, broadcaster *bus.Broadcaster) *TelegramRelay {
	return &TelegramRelay{
		client:      client,
		broadcaster: broadcaster,
		stop:        make(chan struct{}),
	}
}

// SetLogger sets the logger for the relay.
func (r *TelegramRelay) SetLogger(logger Logger) { r.logger = logger }

// Run pumps telegrams to the broker until Stop is called. Call in a
// goroutine.
func (r *TelegramRelay) Run() {
	sub := r.broadcaster.Subscribe(relayBuffer)
	for {
		select {
		case <-r.stop:
			r.broadcaster.Unsubscribe(sub)
			return
		case tel, ok := <-sub.C:
			if !ok {
				// Dropped as a slow subscriber; rejoin the stream.
				if r.logger != nil {
					r.logger.Warn("telegram relay fell behind, resubscribing")
				}
				sub = r.broadcaster.Subscribe(relayBuffer)
				continue
			}
			r.publish(tel)
		}
	}
}

// Stop terminates the relay.
func (r *TelegramRelay) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

// publish sends one telegram, best-effort.
func (r *TelegramRelay) publish(tel bus.Telegram) {
	payload, err := json.Marshal(tel)
	if err != nil {
		return
	}
	topic := Topics{}.Telegram(tel.Address)
	if err := r.client.Publish(topic, payload, false); err != nil {
		if r.logger != nil {
			r.logger.Warn("telegram publish failed", "topic", topic, "error", err)
		}
	}
}
