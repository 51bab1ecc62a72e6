package extractor

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// node wraps a value of a decoded JSON document. Every accessor is total: a
// missing key, a wrong type or an out-of-range index yields an empty node
// instead of panicking, so a path either resolves or reports !ok at the end.
type node struct {
	v  any
	ok bool
}

var errTrailingData = errors.New("unexpected data after top-level value")

// parseNode keeps numbers as json.Number so 64-bit counters survive intact.
func parseNode(data []byte) (node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return node{}, err
	}
	if dec.More() {
		return node{}, errTrailingData
	}
	return node{v: v, ok: true}, nil
}

// Key returns the member k of an object node.
func (n node) Key(k string) node {
	obj, isObj := n.v.(map[string]any)
	if !n.ok || !isObj {
		return node{}
	}
	v, found := obj[k]
	return node{v: v, ok: found}
}

// Index returns element i of an array node.
func (n node) Index(i int) node {
	arr, isArr := n.v.([]any)
	if !n.ok || !isArr || i < 0 || i >= len(arr) {
		return node{}
	}
	return node{v: arr[i], ok: true}
}

// List returns the elements of an array node.
func (n node) List() []node {
	arr, isArr := n.v.([]any)
	if !n.ok || !isArr {
		return nil
	}
	out := make([]node, len(arr))
	for i, v := range arr {
		out[i] = node{v: v, ok: true}
	}
	return out
}

// Text returns a scalar node as a string. Numbers keep their literal JSON
// form; objects, arrays and null do not convert.
func (n node) Text() (string, bool) {
	if !n.ok {
		return "", false
	}
	switch v := n.v.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// Wrapped follows the Junos JSON convention where every member is a
// single-element array: Wrapped(k) is Key(k).Index(0).
func (n node) Wrapped(k string) node {
	return n.Key(k).Index(0)
}

// Data returns the "data" leaf of a wrapped member, e.g. {"name":[{"data":"ge-0/0/0"}]}.
func (n node) Data(k string) (string, bool) {
	return n.Wrapped(k).Key("data").Text()
}
