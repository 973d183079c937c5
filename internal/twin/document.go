package twin

import (
	"sync"

	"github.com/nerrad567/gray-logic-agent/internal/session"
)

// ReportedProperty is the device's last acknowledged state for one
// property.
type ReportedProperty struct {
	Value          any    `json:"value"`
	Status         string `json:"status,omitempty"`
	DesiredVersion int64  `json:"desiredVersion,omitempty"`

	// Version is the reported-section $version after the patch that
	// set this property was accepted.
	Version int64 `json:"version"`
}

// DesiredProperty is a value the platform wants applied, tagged with
// the desired $version of the push that carried it.
type DesiredProperty struct {
	Value   any   `json:"value"`
	Version int64 `json:"version"`
}

// Document is the local view of the twin. Desired is refreshed by
// platform pushes; reported changes only when one of our patches is
// accepted.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Document struct {
	mu              sync.RWMutex
	desired         map[string]DesiredProperty
	reported        map[string]ReportedProperty
	desiredVersion  int64
	reportedVersion int64
}

// Snapshot is a point-in-time copy of a Document.
type Snapshot struct {
	Desired         map[string]DesiredProperty  `json:"desired"`
	Reported        map[string]ReportedProperty `json:"reported"`
	DesiredVersion  int64                       `json:"desiredVersion"`
	ReportedVersion int64                       `json:"reportedVersion"`
}

func newDocument() *Document {
	return &Document{
		desired:  make(map[string]DesiredProperty),
		reported: make(map[string]ReportedProperty),
	}
}

// load replaces the document with a freshly fetched twin.
func (d *Document) load(t *session.Twin) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.desiredVersion, _ = t.Desired.Version()
	d.reportedVersion, _ = t.Reported.Version()

	d.desired = make(map[string]DesiredProperty, len(t.Desired))
	for _, name := range t.Desired.Names() {
		v, _ := t.Desired.Value(name)
		d.desired[name] = DesiredProperty{Value: v, Version: d.desiredVersion}
	}

	d.reported = make(map[string]ReportedProperty, len(t.Reported))
	for _, name := range t.Reported.Names() {
		d.reported[name] = parseReported(t.Reported[name], d.reportedVersion)
	}
}

func parseReported(raw any, version int64) ReportedProperty {
	rp := ReportedProperty{Value: raw, Version: version}
	obj, ok := raw.(map[string]any)
	if !ok {
		return rp
	}
	if v, has := obj["value"]; has {
		rp.Value = v
	}
	if s, has := obj["status"].(string); has {
		rp.Status = s
	}
	if dv, has := obj["desiredVersion"].(float64); has {
		rp.DesiredVersion = int64(dv)
	}
	return rp
}

func (d *Document) applyDesired(changes map[string]DesiredProperty, version int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, change := range changes {
		d.desired[name] = change
	}
	if version > d.desiredVersion {
		d.desiredVersion = version
	}
}

func (d *Document) applyReported(patch map[string]any, version int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, raw := range patch {
		d.reported[name] = parseReportedPatch(raw, version)
	}
	if version > d.reportedVersion {
		d.reportedVersion = version
	}
}

// parseReportedPatch reads a value we built ourselves, so typed maps
// and int64 versions are expected alongside decoded JSON shapes.
func parseReportedPatch(raw any, version int64) ReportedProperty {
	obj, ok := raw.(map[string]any)
	if !ok {
		return ReportedProperty{Value: raw, Version: version}
	}
	rp := parseReported(obj, version)
	if dv, has := obj["desiredVersion"].(int64); has {
		rp.DesiredVersion = dv
	}
	return rp
}

// Desired returns the latest desired value for name.
func (d *Document) Desired(name string) (DesiredProperty, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.desired[name]
	return p, ok
}

// Reported returns the last acknowledged reported value for name.
func (d *Document) Reported(name string) (ReportedProperty, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.reported[name]
	return p, ok
}

// Snapshot copies the document.
func (d *Document) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Snapshot{
		Desired:         make(map[string]DesiredProperty, len(d.desired)),
		Reported:        make(map[string]ReportedProperty, len(d.reported)),
		DesiredVersion:  d.desiredVersion,
		ReportedVersion: d.reportedVersion,
	}
	for k, v := range d.desired {
		s.Desired[k] = v
	}
	for k, v := range d.reported {
		s.Reported[k] = v
	}
	return s
}
