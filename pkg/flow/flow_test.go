package flow

import (
	"testing"

	"github.com/ofslicer/ofslicer/pkg/tuple"
)

func TestTupleMatchTableByLength(t *testing.T) {
	cases := []struct {
		in        tuple.Tuple
		wantTable uint8
	}{
		{tuple.New1(1), TableOuterTag},
		{tuple.New2(1, 10), TableSource},
		{tuple.New3(1, 10, 20), TableSource},
	}
	for _, c := range cases {
		_, table, prio := TupleMatch(c.in, nil)
		if table != c.wantTable {
			t.Errorf("TupleMatch(%s) table = %d, want %d", c.in, table, c.wantTable)
		}
		if prio != 4 {
			t.Errorf("TupleMatch(%s) priority = %d, want 4", c.in, prio)
		}
	}
}

func TestTupleMatchFields(t *testing.T) {
	m, _, _ := TupleMatch(tuple.New3(7, 100, 200), nil)
	if !m.HasInPort || m.InPort != 7 {
		t.Fatal("expected in_port match")
	}
	if !m.HasMetadata || m.Metadata != 100 {
		t.Fatalf("expected metadata=100, got %v/%v", m.HasMetadata, m.Metadata)
	}
	if !m.HasVLANVID || m.VLANVID != vlanPresent|200 {
		t.Fatalf("expected vlan_vid=0x1000|200, got %#x", m.VLANVID)
	}
	if m.HasEthSrc {
		t.Fatal("no mac given, should not match eth_src")
	}

	mac := [6]byte{1, 2, 3, 4, 5, 6}
	m2, _, _ := TupleMatch(tuple.New1(7), &mac)
	if !m2.HasEthSrc || m2.EthSrc != mac {
		t.Fatal("expected eth_src match when mac provided")
	}
}

func TestTupleActionSubstitutesInPort(t *testing.T) {
	actions := TupleAction(tuple.New1(5), 5)
	if len(actions) != 1 || actions[0].Kind != ActionOutput || actions[0].OutputPort != PortInPort {
		t.Fatalf("expected single IN_PORT output, got %+v", actions)
	}

	actions = TupleAction(tuple.New1(5), 9)
	if len(actions) != 1 || actions[0].OutputPort != 5 {
		t.Fatalf("expected output to port 5, got %+v", actions)
	}
}

func TestTupleActionVLANPushOrder(t *testing.T) {
	actions := TupleAction(tuple.New2(5, 10), 9)
	if len(actions) != 3 {
		t.Fatalf("expected push+set+output for 2-tuple, got %d actions", len(actions))
	}
	if actions[0].Kind != ActionPushVLAN || actions[0].EtherType != EthType8021Q {
		t.Fatalf("expected 802.1Q push first, got %+v", actions[0])
	}
	if actions[1].Kind != ActionSetFieldVLAN || actions[1].VLANVID != vlanPresent|10 {
		t.Fatalf("expected vlan 10 set, got %+v", actions[1])
	}

	actions = TupleAction(tuple.New3(5, 10, 20), 9)
	if len(actions) != 5 {
		t.Fatalf("expected push+set+push+set+output for 3-tuple, got %d actions", len(actions))
	}
	if actions[0].EtherType != EthType8021Q || actions[1].VLANVID != vlanPresent|20 {
		t.Fatal("expected inner tag (802.1Q) pushed first")
	}
	if actions[2].EtherType != EthType8021AD || actions[3].VLANVID != vlanPresent|10 {
		t.Fatal("expected outer tag (802.1AD) pushed second, on top of the inner")
	}
}
