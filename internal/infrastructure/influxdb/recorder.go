package influxdb

import "github.com/nerrad567/gray-logic-runtime/internal/bus"

// recorderBuffer is the recorder's subscription depth.
const recorderBuffer = 512

// TelegramRecorder streams bus telegrams into InfluxDB for history
// queries and charting.
type TelegramRecorder struct {
	client      *Client
	broadcaster *bus.Broadcaster
	stop        chan struct{}
}

// NewTelegramRecorder creates a recorder between the broadcaster and
// the time-series store.
func NewTelegramRecorder(client *Client, broadcaster *bus.Broadcaster) *TelegramRecorder {
	return &TelegramRecorder{
		client:      client,
		broadcaster: broadcaster,
		stop:        make(chan struct{}),
	}
}

// Run pumps telegrams into InfluxDB until Stop. Call in a goroutine.
// When the recorder falls behind and is disconnected by the
// broadcaster it simply resubscribes; history has no delivery
// guarantee, the address DB holds the authoritative last values.
func (r *TelegramRecorder) Run() {
	sub := r.broadcaster.Subscribe(recorderBuffer)
	for {
		select {
		case <-r.stop:
			r.broadcaster.Unsubscribe(sub)
			return
		case tel, ok := <-sub.C:
			if !ok {
				sub = r.broadcaster.Subscribe(recorderBuffer)
				continue
			}
			r.client.WriteTelegram(tel)
		}
	}
}

// Stop terminates the recorder.
func (r *TelegramRecorder) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}
