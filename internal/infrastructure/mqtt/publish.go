package mqtt

import (
	"fmt"
)

// Maximum payload size for device-to-cloud messages (256KB hub limit).
const maxPayloadSize = 256 << 10

// Publish sends a message to the specified MQTT topic and waits for the
// broker acknowledgement (QoS 1) or the local write (QoS 0).
//
// Parameters:
//   - topic: The topic to publish to (e.g., "devices/sensor-01/messages/events/")
//   - payload: The message payload (typically JSON, max 256KB)
//   - qos: Quality of Service level (0 or 1)
//   - retained: Whether the broker should retain the message
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	topic := mqtt.Topics{}.Telemetry("sensor-01")
//	err := client.Publish(topic, []byte(`{"temp":30.1,"humid":74.2}`), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	timeout := c.opts.publishTimeout()
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
