// Package influxdb mirrors the agent's telemetry into a local InfluxDB v2
// bucket using the official influxdb-client-go library.
//
// The Client is a telemetry.Sink: every published sample is also written
// as an "environment" point tagged with the device id.
//
//	mirror, err := influxdb.Connect(cfg.InfluxDB, map[string]string{"device_id": id})
//	if err != nil {
//	    return err
//	}
//	defer mirror.Close()
//	mirror.SetOnError(func(err error) { log.Warn("influx write failed", "error", err) })
//
// Writes are batched (batch_size, flush_interval) and never block the
// telemetry loop.
package influxdb
