package session

import (
	json "github.com/goccy/go-json"
)

// VersionKey is the metadata key carrying a property section's version.
const VersionKey = "$version"

// Twin is the twin document as returned by the hub.
type Twin struct {
	Desired  Properties `json:"desired"`
	Reported Properties `json:"reported"`
}

// Properties is one section of the twin document. Keys starting with
// '$' are hub metadata.
type Properties map[string]any

// Version returns the section's $version.
func (p Properties) Version() (int64, bool) {
	switch v := p[VersionKey].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// Names returns the property names in p, skipping metadata keys.
func (p Properties) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		if len(k) > 0 && k[0] == '$' {
			continue
		}
		names = append(names, k)
	}
	return names
}

// Value returns the value of a property. Writable properties may be
// sent either raw or wrapped as {"value": ...}; both forms yield the
// inner value.
func (p Properties) Value(name string) (any, bool) {
	v, ok := p[name]
	if !ok {
		return nil, false
	}
	if obj, isObj := v.(map[string]any); isObj {
		if inner, wrapped := obj["value"]; wrapped {
			return inner, true
		}
	}
	return v, true
}
