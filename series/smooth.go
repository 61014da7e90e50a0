package series

// Smooth applies a centered moving average of width windowSize. Short
// series come back unchanged. Each output point takes the timestamp and
// height of its window's midpoint, and nulls are skipped rather than
// counted as zero; a window of only nulls yields a null.
func Smooth(points []Point, windowSize int) []Point {
	if windowSize <= 1 || len(points) < windowSize {
		return points
	}
	half := windowSize / 2
	last := len(points) - 1
	out := make([]Point, 0, len(points))
	for i := range points {
		lo, hi := i-half, i+half
		if lo < 0 {
			lo = 0
		}
		if hi > last {
			hi = last
		}
		var sum float64
		var n int
		for _, p := range points[lo : hi+1] {
			if p.Value == nil {
				continue
			}
			sum += *p.Value
			n++
		}
		mid := points[(lo+hi)/2]
		sp := Point{Timestamp: mid.Timestamp, Height: mid.Height, Difficulty: mid.Difficulty}
		if n > 0 {
			sp.Value = floatPtr(sum / float64(n))
		}
		out = append(out, sp)
	}
	return out
}
