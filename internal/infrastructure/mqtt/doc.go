// Package mqtt provides the device-side MQTT connection used to reach
// the provisioning service and the IoT hub.
//
// This package manages:
//   - Connection with SAS-token credentials over TLS
//   - Message publishing with QoS 0/1
//   - Topic subscriptions with wildcard support
//   - Builders and parsers for the provisioning and hub topic shapes
//
// # Reconnection
//
// There is none. Both cloud connections are opened once; if the hub
// session drops, the OnDisconnect callback fires and the agent exits so
// a supervisor can restart it with fresh tokens.
//
// # Usage
//
//	client, err := mqtt.Connect(mqtt.Options{
//	    Host:     hub,
//	    Port:     8883,
//	    TLS:      true,
//	    ClientID: deviceID,
//	    Username: hub + "/" + deviceID + "/?api-version=2021-04-12",
//	    Password: sasToken,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.Methods(), 1,
//	    func(topic string, payload []byte) error {
//	        name, rid, err := mqtt.ParseMethod(topic)
//	        ...
//	    })
package mqtt
