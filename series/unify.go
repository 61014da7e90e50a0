package series

import "sort"

// Unify puts two independently sampled series on one time axis. Both outputs
// have one point per distinct timestamp across a and b, ascending; where a
// series has no sample the point carries a null value.
func Unify(a, b []Point) ([]Point, []Point) {
	byA := indexByTimestamp(a)
	byB := indexByTimestamp(b)
	stamps := make([]int64, 0, len(byA)+len(byB))
	for ts := range byA {
		stamps = append(stamps, ts)
	}
	for ts := range byB {
		if _, dup := byA[ts]; !dup {
			stamps = append(stamps, ts)
		}
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	outA := make([]Point, len(stamps))
	outB := make([]Point, len(stamps))
	for i, ts := range stamps {
		outA[i] = pick(byA, ts)
		outB[i] = pick(byB, ts)
	}
	return outA, outB
}

func indexByTimestamp(points []Point) map[int64]Point {
	m := make(map[int64]Point, len(points))
	for _, p := range points {
		if _, ok := m[p.Timestamp]; !ok {
			m[p.Timestamp] = p
		}
	}
	return m
}

func pick(m map[int64]Point, ts int64) Point {
	if p, ok := m[ts]; ok {
		return p
	}
	return Point{Timestamp: ts}
}
