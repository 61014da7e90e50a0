package series

import (
	"testing"
)

func pts(values ...*float64) []Point {
	out := make([]Point, len(values))
	for i, v := range values {
		out[i] = Point{Timestamp: int64(i) * 60, Height: int64(i), Value: v}
	}
	return out
}

func f(v float64) *float64 { return &v }

func TestSmoothShortSeriesIdentity(t *testing.T) {
	in := pts(f(1), f(2))
	out := Smooth(in, 5)
	if len(out) != 2 || out[0].Value != in[0].Value || out[1].Value != in[1].Value {
		t.Fatal("short series must be returned unchanged")
	}
}

func TestSmoothConstant(t *testing.T) {
	in := pts(f(4), f(4), f(4), f(4), f(4), f(4))
	out := Smooth(in, 3)
	if len(out) != len(in) {
		t.Fatal("length")
	}
	for _, p := range out {
		if p.Value == nil || *p.Value != 4 {
			t.Fatal("constant series must stay constant")
		}
	}
}

func TestSmoothCenteredAndAnchored(t *testing.T) {
	in := pts(f(1), f(2), f(3), f(4), f(5))
	out := Smooth(in, 3)
	// i=0 window [0,1] -> 1.5 anchored at index 0
	if *out[0].Value != 1.5 || out[0].Height != 0 {
		t.Fatal("left edge")
	}
	if *out[2].Value != 3 || out[2].Height != 2 {
		t.Fatal("middle")
	}
	// i=4 window [3,4] -> 4.5 anchored at index 3
	if *out[4].Value != 4.5 || out[4].Height != 3 {
		t.Fatal("right edge anchored at window midpoint")
	}
}

func TestSmoothNulls(t *testing.T) {
	in := pts(nil, nil, nil, f(6), nil)
	out := Smooth(in, 3)
	if out[0].Value != nil {
		t.Fatal("all-null window must be null")
	}
	if out[1].Value != nil {
		t.Fatal("window [0,2] is all null")
	}
	if out[2].Value == nil || *out[2].Value != 6 {
		t.Fatal("nulls are skipped, not zero")
	}
}
