// Package extractor turns the JSON output of "show interfaces" into interface
// counter records.
package extractor

import (
	"fmt"
	"strings"
	"time"

	"github.com/nmslite/ifstats/internal/model"
)

// InterfacePrefixes are the physical interface families that are recorded.
var InterfacePrefixes = []string{"ae", "ge", "xe", "irb", "reth"}

// Retained reports whether an interface name starts with one of
// InterfacePrefixes. Matching is case-sensitive.
func Retained(name string) bool {
	for _, p := range InterfacePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Extract parses raw and returns one record per retained physical interface,
// in device order. Only a JSON syntax error fails the call; a counter whose
// path does not resolve is recorded as model.SentinelNoValue.
func Extract(raw string, schema Schema, ts time.Time) ([]model.InterfaceCounterRecord, error) {
	root, err := parseNode([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON output: %w", err)
	}

	var records []model.InterfaceCounterRecord
	for _, iface := range root.Wrapped("interface-information").Key("physical-interface").List() {
		name, ok := iface.Data("name")
		if !ok {
			name = model.SentinelNoName
		}
		if !Retained(name) {
			continue
		}
		records = append(records, model.InterfaceCounterRecord{
			Interface: name,
			Timestamp: ts,
			Counters:  counters(iface, schema.Fields),
		})
	}
	return records, nil
}

func counters(iface node, fields []Field) []model.Counter {
	out := make([]model.Counter, len(fields))
	for i, f := range fields {
		value, ok := iface.Wrapped(f.Group).Data(f.Key)
		if !ok {
			value = model.SentinelNoValue
		}
		out[i] = model.Counter{
			Name:    f.Name,
			Label:   f.Label,
			Value:   value,
			Present: ok,
		}
	}
	return out
}

// Missing returns the names of counters that fell back to the sentinel.
func Missing(r model.InterfaceCounterRecord) []string {
	var names []string
	for _, c := range r.Counters {
		if !c.Present {
			names = append(names, c.Name)
		}
	}
	return names
}
