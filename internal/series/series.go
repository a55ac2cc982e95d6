package series

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Point is a single observation of the target series.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Series is a chronologically ordered numeric time series. Instances are
// immutable after construction; windowing methods return views or copies.
type Series struct {
	points []Point
}

// New validates and constructs a Series. Timestamps must be strictly
// increasing with no duplicates.
func New(points []Point) (*Series, error) {
	for i := 1; i < len(points); i++ {
		if !points[i].Date.After(points[i-1].Date) {
			return nil, fmt.Errorf("series not strictly increasing at index %d (%s then %s)",
				i, points[i-1].Date.Format("2006-01-02"), points[i].Date.Format("2006-01-02"))
		}
	}
	cp := make([]Point, len(points))
	copy(cp, points)
	return &Series{points: cp}, nil
}

// FromValues builds a daily series starting at start, one point per day.
// Used heavily in tests and synthetic backtests.
func FromValues(start time.Time, values []float64) *Series {
	points := make([]Point, len(values))
	for i, v := range values {
		points[i] = Point{Date: start.AddDate(0, 0, i), Value: v}
	}
	return &Series{points: points}
}

// Len returns the number of observations.
func (s *Series) Len() int { return len(s.points) }

// At returns the i-th point.
func (s *Series) At(i int) Point { return s.points[i] }

// Points returns a copy of the underlying observations.
func (s *Series) Points() []Point {
	cp := make([]Point, len(s.points))
	copy(cp, s.points)
	return cp
}

// Values returns the observation values in order.
func (s *Series) Values() []float64 {
	vals := make([]float64, len(s.points))
	for i, p := range s.points {
		vals[i] = p.Value
	}
	return vals
}

// Last returns the final point. Panics on an empty series.
func (s *Series) Last() Point { return s.points[len(s.points)-1] }

// Tail returns a new Series holding the newest n observations (or the whole
// series when n >= Len).
func (s *Series) Tail(n int) *Series {
	if n >= len(s.points) {
		return &Series{points: s.points}
	}
	return &Series{points: s.points[len(s.points)-n:]}
}

// Head returns a new Series holding everything except the newest n
// observations.
func (s *Series) Head(n int) *Series {
	if n >= len(s.points) {
		return &Series{points: nil}
	}
	return &Series{points: s.points[:len(s.points)-n]}
}

// SplitTail splits the series into (older, newest-n) windows.
func (s *Series) SplitTail(n int) (*Series, *Series) {
	return s.Head(n), s.Tail(n)
}

// Diff returns first differences of the values (length Len-1).
func (s *Series) Diff() []float64 {
	if len(s.points) < 2 {
		return nil
	}
	out := make([]float64, len(s.points)-1)
	for i := 1; i < len(s.points); i++ {
		out[i-1] = s.points[i].Value - s.points[i-1].Value
	}
	return out
}

// Returns computes simple percentage returns between consecutive points.
// Zero-valued observations yield a zero return rather than a division blowup.
func (s *Series) Returns() []float64 {
	if len(s.points) < 2 {
		return nil
	}
	out := make([]float64, len(s.points)-1)
	for i := 1; i < len(s.points); i++ {
		prev := s.points[i-1].Value
		if prev == 0 {
			out[i-1] = 0
			continue
		}
		out[i-1] = (s.points[i].Value - prev) / prev
	}
	return out
}

// ValueOn looks up the value at date, falling back to the nearest observation
// within maxDriftDays. The smallest absolute distance wins; ties resolve to
// the earlier date. The bool reports whether a usable observation was found.
func (s *Series) ValueOn(date time.Time, maxDriftDays int) (float64, bool) {
	if len(s.points) == 0 {
		return 0, false
	}
	day := date.Truncate(24 * time.Hour)
	idx := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].Date.Truncate(24 * time.Hour).Before(day)
	})

	best := -1
	bestDist := math.MaxInt64
	for _, i := range []int{idx - 1, idx} {
		if i < 0 || i >= len(s.points) {
			continue
		}
		d := int(math.Abs(s.points[i].Date.Truncate(24 * time.Hour).Sub(day).Hours() / 24))
		if d > maxDriftDays {
			continue
		}
		// Strict less keeps the earlier candidate on equal distance.
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return 0, false
	}
	return s.points[best].Value, true
}

// Mean returns the arithmetic mean of the values (0 for an empty series).
func (s *Series) Mean() float64 {
	if len(s.points) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range s.points {
		sum += p.Value
	}
	return sum / float64(len(s.points))
}

// Std returns the sample standard deviation of the values.
func (s *Series) Std() float64 {
	n := len(s.points)
	if n < 2 {
		return 0
	}
	mean := s.Mean()
	ss := 0.0
	for _, p := range s.points {
		d := p.Value - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// MaxDrawdown returns the largest peak-to-trough decline as a fraction of the
// peak (0 when the series never declines or is too short).
func (s *Series) MaxDrawdown() float64 {
	if len(s.points) < 2 {
		return 0
	}
	peak := s.points[0].Value
	maxDD := 0.0
	for _, p := range s.points[1:] {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			dd := (peak - p.Value) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
