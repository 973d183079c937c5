package mqtt

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Topic prefixes used by the provisioning service and the hub.
const (
	// DPSResponsePrefix is where the provisioning service replies.
	DPSResponsePrefix = "$dps/registrations/res/"

	// TwinResponsePrefix is where the hub replies to twin GET and PATCH requests.
	TwinResponsePrefix = "$iothub/twin/res/"

	// TwinDesiredPrefix is where the hub pushes desired-property patches.
	TwinDesiredPrefix = "$iothub/twin/PATCH/properties/desired/"

	// MethodPrefix is where the hub delivers direct method invocations.
	MethodPrefix = "$iothub/methods/POST/"

	// Query keys carried in reply topics.
	QueryRequestID  = "$rid"
	QueryVersion    = "$version"
	QueryRetryAfter = "retry-after"
)

// Topics provides builders for provisioning and hub topics.
// Using these helpers keeps topic shapes in one place.
//
//	topics := mqtt.Topics{}
//	topics.TwinGet("42")
//	// Returns: "$iothub/twin/GET/?$rid=42"
type Topics struct{}

// =============================================================================
// Provisioning Topics
// =============================================================================

// DPSResponses returns the filter for all provisioning replies.
func (Topics) DPSResponses() string {
	return DPSResponsePrefix + "#"
}

// DPSRegister returns the topic that starts a registration.
//
// Example: $dps/registrations/PUT/iotdps-register/?$rid=1
func (Topics) DPSRegister(rid string) string {
	return fmt.Sprintf("$dps/registrations/PUT/iotdps-register/?$rid=%s", rid)
}

// DPSOperationStatus returns the topic that polls a pending registration.
//
// Example: $dps/registrations/GET/iotdps-get-operationstatus/?$rid=2&operationId=4.abc
func (Topics) DPSOperationStatus(rid, operationID string) string {
	return fmt.Sprintf("$dps/registrations/GET/iotdps-get-operationstatus/?$rid=%s&operationId=%s",
		rid, url.QueryEscape(operationID))
}

// =============================================================================
// Hub Topics
// =============================================================================

// Telemetry returns the device-to-cloud event topic.
//
// Example: devices/sensor-01/messages/events/
func (Topics) Telemetry(deviceID string) string {
	return fmt.Sprintf("devices/%s/messages/events/", deviceID)
}

// TwinResponses returns the filter for twin GET/PATCH replies.
func (Topics) TwinResponses() string {
	return TwinResponsePrefix + "#"
}

// TwinGet returns the topic that requests the full twin document.
func (Topics) TwinGet(rid string) string {
	return fmt.Sprintf("$iothub/twin/GET/?$rid=%s", rid)
}

// TwinPatchReported returns the topic for a reported-property patch.
func (Topics) TwinPatchReported(rid string) string {
	return fmt.Sprintf("$iothub/twin/PATCH/properties/reported/?$rid=%s", rid)
}

// TwinDesired returns the filter for desired-property pushes.
func (Topics) TwinDesired() string {
	return TwinDesiredPrefix + "#"
}

// Methods returns the filter for direct method invocations.
func (Topics) Methods() string {
	return MethodPrefix + "#"
}

// MethodResponse returns the topic for answering a method invocation.
//
// Example: $iothub/methods/res/200/?$rid=7
func (Topics) MethodResponse(status int, rid string) string {
	return fmt.Sprintf("$iothub/methods/res/%d/?$rid=%s", status, rid)
}

// =============================================================================
// Topic Parsing
// =============================================================================

// Response is a parsed "<prefix><status>/?<query>" reply topic.
type Response struct {
	Status    int
	RequestID string
	Query     url.Values
}

// Int64 returns a numeric query parameter, or def when absent or malformed.
func (r Response) Int64(key string, def int64) int64 {
	v := r.Query.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// ParseResponse parses a reply topic under prefix, e.g.
// "$iothub/twin/res/204/?$rid=5&$version=12".
func ParseResponse(topic, prefix string) (Response, error) {
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return Response{}, fmt.Errorf("%w: %q lacks prefix %q", ErrUnexpectedTopic, topic, prefix)
	}

	statusPart, query, _ := strings.Cut(rest, "/?")
	status, err := strconv.Atoi(strings.TrimSuffix(statusPart, "/"))
	if err != nil {
		return Response{}, fmt.Errorf("%w: bad status in %q", ErrUnexpectedTopic, topic)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return Response{}, fmt.Errorf("%w: bad query in %q: %w", ErrUnexpectedTopic, topic, err)
	}

	return Response{
		Status:    status,
		RequestID: values.Get(QueryRequestID),
		Query:     values,
	}, nil
}

// ParseMethod parses a method invocation topic such as
// "$iothub/methods/POST/blink/?$rid=1".
func ParseMethod(topic string) (name, rid string, err error) {
	rest, ok := strings.CutPrefix(topic, MethodPrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a method topic", ErrUnexpectedTopic, topic)
	}

	name, query, _ := strings.Cut(rest, "/?")
	name = strings.TrimSuffix(name, "/")
	if name == "" {
		return "", "", fmt.Errorf("%w: method name missing in %q", ErrUnexpectedTopic, topic)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad query in %q: %w", ErrUnexpectedTopic, topic, err)
	}
	rid = values.Get(QueryRequestID)
	if rid == "" {
		return "", "", fmt.Errorf("%w: request id missing in %q", ErrUnexpectedTopic, topic)
	}
	return name, rid, nil
}

// ParseDesiredVersion extracts $version from a desired-property push
// topic. It reports false when the topic carries no version.
func ParseDesiredVersion(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, TwinDesiredPrefix)
	if !ok {
		return 0, false
	}
	values, err := url.ParseQuery(strings.TrimPrefix(rest, "?"))
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseInt(values.Get(QueryVersion), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
