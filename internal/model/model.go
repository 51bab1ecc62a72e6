// Package model holds the values passed between the collection stages.
package model

import "time"

// HostEntry is one row of the host list. Empty strings mean the field is absent.
type HostEntry struct {
	Hostname string `json:"hostname,omitempty"`
	Address  string `json:"address,omitempty"`
}

// Key names the host in logs, session log files and output tabs.
func (h HostEntry) Key() string {
	if h.Hostname != "" {
		return h.Hostname
	}
	return h.Address
}

// HasHostname reports whether the entry can be reached by name.
func (h HostEntry) HasHostname() bool { return h.Hostname != "" }

// HasAddress reports whether the entry can be reached by raw address.
func (h HostEntry) HasAddress() bool { return h.Address != "" }

// Valid reports whether at least one selector is present.
func (h HostEntry) Valid() bool { return h.HasHostname() || h.HasAddress() }

// Variant selects the command and counter schema of a run.
type Variant string

const (
	VariantErrors  Variant = "errors"
	VariantPackets Variant = "packets"
)

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == VariantErrors || v == VariantPackets
}

const (
	// SentinelNoValue replaces a counter whose JSON path does not resolve.
	SentinelNoValue = "None"
	// SentinelNoName replaces a missing interface name.
	SentinelNoName = "No Data"
)

// Counter is one named value of an interface record.
type Counter struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Value   string `json:"value"`
	Present bool   `json:"present"`
}

// InterfaceCounterRecord holds the counters of one physical interface.
type InterfaceCounterRecord struct {
	Interface string    `json:"interface"`
	Timestamp time.Time `json:"timestamp"`
	Counters  []Counter `json:"counters"`
}

// Value returns the value of the named counter.
func (r InterfaceCounterRecord) Value(name string) (string, bool) {
	for _, c := range r.Counters {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Values returns counter values in schema order.
func (r InterfaceCounterRecord) Values() []string {
	out := make([]string, len(r.Counters))
	for i, c := range r.Counters {
		out[i] = c.Value
	}
	return out
}
