package identity

import (
	"fmt"
	"strings"
)

// Connection string keys.
const (
	keyHostName        = "HostName"
	keyDeviceID        = "DeviceId"
	keySharedAccessKey = "SharedAccessKey"
)

// ConnectionString is the parsed form of
// "HostName=<hub>;DeviceId=<id>;SharedAccessKey=<key>".
type ConnectionString struct {
	HostName        string
	DeviceID        string
	SharedAccessKey string
}

// String renders the descriptor in its wire form.
func (c ConnectionString) String() string {
	return fmt.Sprintf("%s=%s;%s=%s;%s=%s",
		keyHostName, c.HostName,
		keyDeviceID, c.DeviceID,
		keySharedAccessKey, c.SharedAccessKey,
	)
}

// ParseConnectionString parses a session descriptor. Keys may appear in
// any order; all three are required. Values may contain '=' (base64
// keys end in padding), so only the first '=' of each pair separates
// key from value.
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	for _, part := range strings.Split(s, ";") {
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionString{}, fmt.Errorf("%w: malformed segment %q", ErrInvalidConnectionString, part)
		}
		switch key {
		case keyHostName:
			cs.HostName = value
		case keyDeviceID:
			cs.DeviceID = value
		case keySharedAccessKey:
			cs.SharedAccessKey = value
		}
	}

	var missing []string
	if cs.HostName == "" {
		missing = append(missing, keyHostName)
	}
	if cs.DeviceID == "" {
		missing = append(missing, keyDeviceID)
	}
	if cs.SharedAccessKey == "" {
		missing = append(missing, keySharedAccessKey)
	}
	if len(missing) > 0 {
		return ConnectionString{}, fmt.Errorf("%w: missing %s", ErrInvalidConnectionString, strings.Join(missing, ", "))
	}
	return cs, nil
}
