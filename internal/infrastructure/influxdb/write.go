package influxdb

import (
	"context"
	"maps"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-agent/internal/telemetry"
)

// MeasurementEnvironment is the measurement telemetry samples are written to.
const MeasurementEnvironment = "environment"

// WriteSample queues a telemetry sample as an environment point with
// temp and humid fields. The context is unused: the write is buffered.
func (c *Client) WriteSample(_ context.Context, s telemetry.Sample) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.writeAPI.WritePoint(samplePoint(s, c.tags))
	return nil
}

func samplePoint(s telemetry.Sample, tags map[string]string) *write.Point {
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	return write.NewPoint(MeasurementEnvironment, maps.Clone(tags),
		map[string]any{
			"temp":  s.Temp,
			"humid": s.Humid,
		},
		s.Time,
	)
}

var _ telemetry.Sink = (*Client)(nil)
