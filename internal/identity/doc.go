// Package identity holds a device's registration credentials and the
// routing identity (hub + device id) assigned to it by provisioning.
//
// A Device starts unassigned. Provisioning returns an Assignment, which
// the caller records exactly once with Assign; from then on the Device
// can produce its session descriptor:
//
//	HostName=<hub>;DeviceId=<id>;SharedAccessKey=<key>
//
// The package also signs shared access tokens used as MQTT passwords
// for both the provisioning service and the hub.
package identity
