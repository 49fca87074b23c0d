package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-runtime/internal/bus"
)

// WriteTelegram records one bus telegram as a time-series point.
//
// Numeric values (bool, int, real) land in the "value" field; string
// values are skipped, the log ring covers those. The write is
// non-blocking: points are batched and flushed asynchronously.
func (c *Client) WriteTelegram(tel bus.Telegram) {
	if !c.IsConnected() || tel.Failed {
		return
	}

	var value float64
	switch tel.NewValue.Kind() {
	case bus.KindBool:
		b, _ := tel.NewValue.AsBool() //nolint:errcheck // kind checked
		if b {
			value = 1
		}
	case bus.KindInt, bus.KindReal:
		value, _ = tel.NewValue.AsReal() //nolint:errcheck // kind checked
	default:
		return
	}

	point := write.NewPoint(
		"telegrams",
		map[string]string{
			"address": tel.Address,
			"origin":  string(tel.Origin),
		},
		map[string]interface{}{
			"value": value,
		},
		tel.Timestamp,
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and
// fields, for callers outside the telegram path.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
