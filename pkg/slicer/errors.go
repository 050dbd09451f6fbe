package slicer

import "errors"

// Sentinel errors returned by the slicing engine and its HTTP config
// surface.
var (
	// ErrMalformedRequest covers a requested slice config that is
	// structurally invalid: an empty tuple set, a tuple outside the
	// 1-3 element range, a negative element, or a pair of tuples
	// that conflict with each other.
	ErrMalformedRequest = errors.New("malformed slice request")

	// ErrUnknownDatapath is returned when an operation names a dpid
	// the controller has no record of.
	ErrUnknownDatapath = errors.New("unknown datapath")

	// ErrRejected covers a well-formed request the engine declines
	// to apply, such as a learn request naming a tuple with no
	// slice.
	ErrRejected = errors.New("request rejected")
)
