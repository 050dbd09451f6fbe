// Package tuple provides the pure algebra over port/VLAN tuples: the keys
// that name a traffic class on a sliced switch. A tuple is a 1-, 2-, or
// 3-element key: (port), (port, vlan), or (port, outer, inner).
package tuple

import "fmt"

// Tuple names a traffic class on the switch. Length 1 is untagged,
// length 2 is single-tagged (C-VLAN), length 3 is double-tagged
// (S-VLAN + C-VLAN). The first element is always a port number; later
// elements are 12-bit VLAN ids.
type Tuple struct {
	Port  uint32
	Outer uint16
	Inner uint16
	Len   int // 1, 2, or 3 — how many of the fields above are meaningful
}

// New1 builds an untagged tuple (port).
func New1(port uint32) Tuple {
	return Tuple{Port: port, Len: 1}
}

// New2 builds a single-tagged tuple (port, vlan).
func New2(port uint32, vlan uint16) Tuple {
	return Tuple{Port: port, Outer: vlan, Len: 2}
}

// New3 builds a double-tagged tuple (port, outer, inner).
func New3(port uint32, outer, inner uint16) Tuple {
	return Tuple{Port: port, Outer: outer, Inner: inner, Len: 3}
}

// Valid reports whether the tuple has a length in [1,3]. It does not
// check negativity — callers construct tuples from unsigned fields, so
// negative-element rejection happens earlier, on the raw wire form (see
// package api's wireTuple, which rejects negative elements before
// converting to Tuple).
func (t Tuple) Valid() bool {
	return t.Len >= 1 && t.Len <= 3
}

// Prefix2 returns the (port, outer) pair, valid only when Len >= 2.
// These are the two elements that identify a tuple's first-tag rule,
// regardless of the tuple's full length.
func (t Tuple) Prefix2() (port uint32, outer uint16) {
	return t.Port, t.Outer
}

// String renders the tuple as "port[.vlan[.inner]]".
func (t Tuple) String() string {
	switch t.Len {
	case 1:
		return fmt.Sprintf("%d", t.Port)
	case 2:
		return fmt.Sprintf("%d.%d", t.Port, t.Outer)
	default:
		return fmt.Sprintf("%d.%d.%d", t.Port, t.Outer, t.Inner)
	}
}

// Text renders a set of tuples as a comma-separated list, in the order
// given.
func Text(tups []Tuple) string {
	s := ""
	for i, t := range tups {
		if i > 0 {
			s += ", "
		}
		s += t.String()
	}
	return s
}

// Conflict reports whether two tuples name overlapping traffic classes
// and therefore cannot coexist in two different slices. Two tuples
// conflict iff they share a port and their encapsulation prefixes do
// not disagree at any defined position — treating a shorter tuple as a
// wildcard for deeper positions.
func Conflict(a, b Tuple) bool {
	if a.Port != b.Port {
		return false
	}
	if a.Len == 1 || b.Len == 1 {
		return true
	}
	if a.Outer != b.Outer {
		return false
	}
	if a.Len == 2 || b.Len == 2 {
		return true
	}
	return a.Inner == b.Inner
}
