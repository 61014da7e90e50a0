package protocol

import (
	"testing"
)

func TestDecodeBlockRecord(t *testing.T) {
	raw := []byte(`{"height":10,"timestamp":1600000000,"gps":[{"edge_bits":29,"gps":1.5},{"edge_bits":31,"gps":2.5}],"difficulty":42}`)
	var b BlockRecord
	if err := Decode(raw, &b); err != nil {
		t.Fatal(err)
	}
	if b.Height != 10 || b.Timestamp != 1600000000 {
		t.Fatal("height/timestamp mismatch")
	}
	g, ok := b.GPSFor(31)
	if !ok || g != 2.5 {
		t.Fatal("gps c31 mismatch")
	}
	if _, ok := b.GPSFor(32); ok {
		t.Fatal("unexpected c32")
	}
	if b.Difficulty == nil || *b.Difficulty != 42 {
		t.Fatal("difficulty mismatch")
	}
	if b.SecondaryScaling != nil {
		t.Fatal("secondary scaling should be absent")
	}
}

func TestDecodeRigShares(t *testing.T) {
	raw := []byte(`{
		"101": {"rigA": {"w1": {"31": {"accepted": 3, "rejected": 1, "stale": 0}}}},
		"100": {"rigA": {"w1": {"31": {"accepted": 2}}, "w2": "garbage"}},
		"abc": {"rigB": {}}
	}`)
	m, err := DecodeRigShares(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 2 {
		t.Fatalf("expect 2 heights, got %d", len(m))
	}
	hs := m.Heights()
	if hs[0] != 100 || hs[1] != 101 {
		t.Fatal("heights not sorted")
	}
	if m[101]["rigA"]["w1"][AlgoC31].Accepted != 3 {
		t.Fatal("accepted mismatch")
	}
	if _, ok := m[100]["rigA"]["w2"]; ok {
		t.Fatal("malformed worker should be dropped")
	}
}

func TestDecodeRigSharesInvalid(t *testing.T) {
	if _, err := DecodeRigShares([]byte("{")); err == nil {
		t.Fatal("expect error")
	}
}
