package slicer

import (
	"errors"
	"testing"

	"github.com/ofslicer/ofslicer/pkg/driver"
	"github.com/ofslicer/ofslicer/pkg/flow"
	"github.com/ofslicer/ofslicer/pkg/tuple"
)

func newTestSwitch(ports ...uint32) (*SwitchState, *driver.RecordingDriver) {
	sw := NewSwitchState(1)
	for _, p := range ports {
		sw.PortAdded(p)
	}
	return sw, &driver.RecordingDriver{}
}

func TestCreateSliceRejectsConflicts(t *testing.T) {
	sw, _ := newTestSwitch(1, 2)
	_, err := sw.CreateSlice([]tuple.Tuple{tuple.New1(1), tuple.New2(1, 10)})
	if !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
}

func TestCreateSliceRejectsEmpty(t *testing.T) {
	sw, _ := newTestSwitch()
	if _, err := sw.CreateSlice(nil); !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest for empty set, got %v", err)
	}
}

func TestCreateSliceOneTupleIsDrop(t *testing.T) {
	sw, d := newTestSwitch(1)
	if _, err := sw.CreateSlice([]tuple.Tuple{tuple.New1(1)}); err != nil {
		t.Fatal(err)
	}
	sw.Invalidate()
	if err := sw.Revalidate(d); err != nil {
		t.Fatal(err)
	}
	for _, fm := range d.Flows() {
		if fm.Command == flow.FlowAdd {
			t.Fatalf("1-tuple slice should add no rules, got %+v", fm)
		}
	}
}

func TestCreateSliceTwoTuplesMakesEline(t *testing.T) {
	sw, d := newTestSwitch(1, 2)
	if _, err := sw.CreateSlice([]tuple.Tuple{tuple.New1(1), tuple.New1(2)}); err != nil {
		t.Fatal(err)
	}
	sw.Invalidate()
	if err := sw.Revalidate(d); err != nil {
		t.Fatal(err)
	}
	adds := 0
	for _, fm := range d.Flows() {
		if fm.Command == flow.FlowAdd {
			adds++
		}
	}
	if adds != 2 {
		t.Fatalf("expected 2 e-line rules (one per direction), got %d", adds)
	}
	if len(d.Groups()) != 0 {
		t.Fatal("a 2-tuple slice should allocate no groups")
	}
}

func TestCreateSliceThreeTuplesAllocatesGroups(t *testing.T) {
	sw, d := newTestSwitch(1, 2, 3)
	if _, err := sw.CreateSlice([]tuple.Tuple{tuple.New1(1), tuple.New1(2), tuple.New1(3)}); err != nil {
		t.Fatal(err)
	}
	sw.Invalidate()
	if err := sw.Revalidate(d); err != nil {
		t.Fatal(err)
	}
	groups := d.Groups()
	if len(groups) != 3 {
		t.Fatalf("expected one group per tuple (3), got %d", len(groups))
	}
	for _, g := range groups {
		if g.Command != flow.GroupAdd {
			t.Fatalf("expected GroupAdd for a brand new group, got %v", g.Command)
		}
		if len(g.Buckets) != 2 {
			t.Fatalf("expected 2 buckets (one per other tuple), got %d", len(g.Buckets))
		}
	}
}

func TestCreateSliceMergesWithOverlappingSlice(t *testing.T) {
	sw, d := newTestSwitch(1, 2, 3)
	s1, err := sw.CreateSlice([]tuple.Tuple{tuple.New1(1), tuple.New1(2)})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := sw.CreateSlice([]tuple.Tuple{tuple.New1(1), tuple.New1(2), tuple.New1(3)})
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatal("expected the slice with maximum tuple overlap to be reused, not a new one")
	}
	if s2.Tuples().Len() != 3 {
		t.Fatalf("expected merged slice to contain all 3 tuples, got %d", s2.Tuples().Len())
	}

	sw.Invalidate()
	if err := sw.Revalidate(d); err != nil {
		t.Fatal(err)
	}
}

func TestCreateSliceOrphansSurviveAsNewSlice(t *testing.T) {
	sw, _ := newTestSwitch(1, 2, 3)
	if _, err := sw.CreateSlice([]tuple.Tuple{tuple.New1(1), tuple.New1(2)}); err != nil {
		t.Fatal(err)
	}
	// Re-submit tuple 1 with tuple 3: the existing slice is reused
	// for {1, 3}, and tuple 2, left behind, must move to a new slice
	// rather than vanish from GetConfig.
	if _, err := sw.CreateSlice([]tuple.Tuple{tuple.New1(1), tuple.New1(3)}); err != nil {
		t.Fatal(err)
	}

	cfg := sw.GetConfig()
	found2 := false
	for _, slice := range cfg {
		for _, tup := range slice {
			if tup == tuple.New1(2) {
				found2 = true
			}
		}
	}
	if !found2 {
		t.Fatal("tuple 2 should still be tracked in some slice after being displaced")
	}
}

func TestPortRemovalInvalidatesDependentSlices(t *testing.T) {
	sw, d := newTestSwitch(1, 2)
	if _, err := sw.CreateSlice([]tuple.Tuple{tuple.New1(1), tuple.New1(2)}); err != nil {
		t.Fatal(err)
	}
	sw.Invalidate()
	if err := sw.Revalidate(d); err != nil {
		t.Fatal(err)
	}
	d.Reset()

	sw.PortRemoved(2)
	if err := sw.Revalidate(d); err != nil {
		t.Fatal(err)
	}

	sawDelete := false
	for _, fm := range d.Flows() {
		if fm.Command == flow.FlowDelete {
			sawDelete = true
		}
	}
	if !sawDelete {
		t.Fatal("expected port removal to trigger flow deletions for the affected slice")
	}
}

func TestDiscardTupleRemovesFromSlice(t *testing.T) {
	sw, d := newTestSwitch(1, 2)
	s, err := sw.CreateSlice([]tuple.Tuple{tuple.New1(1), tuple.New1(2)})
	if err != nil {
		t.Fatal(err)
	}
	sw.Invalidate()
	sw.Revalidate(d)

	sw.DiscardTuple(tuple.New1(1))
	if s.Tuples().Has(tuple.New1(1)) {
		t.Fatal("discarded tuple should be removed from its slice's target set")
	}
	if _, ok := sw.GetSlice(tuple.New1(1)); ok {
		t.Fatal("discarded tuple should no longer be indexed")
	}
}

func TestRevalidateIsNoopWithoutInvalidSlices(t *testing.T) {
	sw, d := newTestSwitch(1)
	if err := sw.Revalidate(d); err != nil {
		t.Fatal(err)
	}
	if len(d.Commands) != 0 {
		t.Fatalf("expected no commands when nothing is invalid, got %d", len(d.Commands))
	}
}
