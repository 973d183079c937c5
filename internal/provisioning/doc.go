// Package provisioning registers the device with the provisioning
// service and returns its hub assignment.
//
// Register is a single exchange over MQTT:
//
//	subscribe $dps/registrations/res/#
//	publish   $dps/registrations/PUT/iotdps-register/?$rid=<rid>
//	  202 + operationId  ->  wait retry-after, then poll
//	publish   $dps/registrations/GET/iotdps-get-operationstatus/?$rid=<rid>&operationId=<op>
//	  ... until status "assigned", "failed" or "disabled"
//
// Polling is part of the exchange. A rejected or timed-out exchange is
// not retried; callers treat any error as fatal.
package provisioning
