// Package telemetry produces and publishes the periodic sensor sample.
//
// A Sampler draws synthetic readings:
//
//	temp  = target + U[0,15)
//	humid = 70 + U[0,10)
//
// A Publisher samples once per interval and sends
// {"temp": <float>, "humid": <float>} through the session. Publish
// failures are logged and counted; the next tick runs regardless. Each
// sample is also handed to any configured Sinks, such as the InfluxDB
// mirror or the local event stream.
package telemetry
