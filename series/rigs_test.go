package series

import (
	"math"
	"testing"

	"github.com/JellyTony/poolboard/protocol"
)

func TestTransformRigsGPS(t *testing.T) {
	shares := protocol.RigShareMap{
		100: {"rig1": {"w1": {"31": {Accepted: 1}}}},
		101: {"rig1": {"w1": {"31": {Accepted: 10, Rejected: 2, Stale: 1}}}},
	}
	blocks := map[int64]protocol.BlockRecord{
		100: {Height: 100, Timestamp: 1000},
		101: {Height: 101, Timestamp: 1600},
	}
	out := TransformRigs(shares, blocks)
	pts := out["rig1"]
	if len(pts) != 1 {
		t.Fatalf("expect 1 point, got %d", len(pts))
	}
	p := pts[0]
	if p.Height != 101 || p.Timestamp != 1600 {
		t.Fatal("point anchored at later height")
	}
	if math.Abs(*p.Value-0.7) > 1e-9 {
		t.Fatalf("gps %v want 0.7", *p.Value)
	}
	if p.Accepted != 10 || p.Rejected != 2 || p.Stale != 1 {
		t.Fatal("share totals")
	}
}

func TestTransformRigsSkipsZeroPeriod(t *testing.T) {
	shares := protocol.RigShareMap{
		1: {"rig": {"w": {"31": {Accepted: 5}}}},
		2: {"rig": {"w": {"31": {Accepted: 5}}}},
	}
	blocks := map[int64]protocol.BlockRecord{
		1: {Height: 1, Timestamp: 500},
		2: {Height: 2, Timestamp: 500},
	}
	if out := TransformRigs(shares, blocks); len(out["rig"]) != 0 {
		t.Fatal("zero period must not emit")
	}
}

func TestTransformRigsSumsWorkersAndJoins(t *testing.T) {
	shares := protocol.RigShareMap{
		10: {"a": {"w1": {"31": {Accepted: 1}}}},
		11: {"a": {"w1": {"31": {Accepted: 3}}, "w2": {"31": {Accepted: 3}, "29": {Accepted: 100}}}},
		12: {"a": {"w1": {"31": {Accepted: 1}}}},
		13: {"b": {"w9": {"31": {Accepted: 7}}}},
	}
	blocks := map[int64]protocol.BlockRecord{
		10: {Height: 10, Timestamp: 0},
		11: {Height: 11, Timestamp: 42},
		13: {Height: 13, Timestamp: 126},
	}
	out := TransformRigs(shares, blocks)
	a := out["a"]
	if len(a) != 1 || a[0].Height != 11 || *a[0].Value != 6 {
		t.Fatal("rig a should sum c31 across workers only")
	}
	b := out["b"]
	if len(b) != 1 || b[0].Height != 13 || *b[0].Value != 3.5 {
		t.Fatal("rig b period spans the missing height")
	}
}

func TestRigWorkers(t *testing.T) {
	shares := protocol.RigShareMap{
		1: {"a": {"w2": {}, "w1": {}}},
		2: {"a": {"w3": {}}, "b": {"x": {}}},
	}
	got := RigWorkers(shares)
	if len(got["a"]) != 3 || got["a"][0] != "w1" || got["a"][2] != "w3" {
		t.Fatal("rig a workers")
	}
	if len(got["b"]) != 1 {
		t.Fatal("rig b workers")
	}
}
