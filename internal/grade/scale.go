package grade

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Bounds for a single grade point value.
const (
	MinPoints = 0.0
	MaxPoints = 10.0
)

// DefaultPoints is the grade table used when GRADE_POINTS is not configured.
// U, UA, RA, F, AB and I all carry zero points.
var DefaultPoints = map[string]float64{
	"O":  10,
	"A+": 9,
	"A":  8,
	"B+": 7,
	"B":  6,
	"C":  5,
	"P":  4,
	"U":  0,
	"UA": 0,
	"RA": 0,
	"F":  0,
	"AB": 0,
	"I":  0,
}

// DefaultFailing is the arrear-grade set used when FAILING_GRADES is not configured.
var DefaultFailing = []string{"U", "UA", "RA", "F", "AB", "I"}

// UnknownGradeError is returned when a grade symbol is not part of the scale.
type UnknownGradeError struct {
	Grade string
}

func (e *UnknownGradeError) Error() string {
	return fmt.Sprintf("unknown grade %q", e.Grade)
}

// IsUnknownGrade reports whether err (or anything it wraps) is an UnknownGradeError.
func IsUnknownGrade(err error) bool {
	var ue *UnknownGradeError
	return errors.As(err, &ue)
}

// Scale maps grade symbols to grade points and classifies failing grades.
// A Scale is immutable after construction and safe for concurrent use.
type Scale struct {
	points  map[string]float64
	failing map[string]struct{}
	order   []string
}

// NewScale validates the table and failing set and builds a Scale.
// Every failing symbol must also appear in the points table.
func NewScale(points map[string]float64, failing []string) (*Scale, error) {
	if len(points) == 0 {
		return nil, errors.New("grade scale: empty points table")
	}

	s := &Scale{
		points:  make(map[string]float64, len(points)),
		failing: make(map[string]struct{}, len(failing)),
		order:   make([]string, 0, len(points)),
	}

	for sym, pts := range points {
		key := Normalize(sym)
		if key == "" {
			return nil, errors.New("grade scale: empty grade symbol")
		}
		if pts < MinPoints || pts > MaxPoints {
			return nil, fmt.Errorf("grade scale: points for %q out of range [%g, %g]: %g", key, MinPoints, MaxPoints, pts)
		}
		if _, dup := s.points[key]; dup {
			return nil, fmt.Errorf("grade scale: duplicate grade symbol %q", key)
		}
		s.points[key] = pts
		s.order = append(s.order, key)
	}

	for _, sym := range failing {
		key := Normalize(sym)
		if _, ok := s.points[key]; !ok {
			return nil, fmt.Errorf("grade scale: failing grade %q has no point value", key)
		}
		s.failing[key] = struct{}{}
	}

	// Highest points first, then alphabetical for a stable listing.
	sort.Slice(s.order, func(i, j int) bool {
		pi, pj := s.points[s.order[i]], s.points[s.order[j]]
		if pi != pj {
			return pi > pj
		}
		return s.order[i] < s.order[j]
	})

	return s, nil
}

// Default returns the built-in scale. It panics only if the built-in tables are broken.
func Default() *Scale {
	s, err := NewScale(DefaultPoints, DefaultFailing)
	if err != nil {
		panic(err)
	}
	return s
}

// Parse builds a Scale from the GRADE_POINTS / FAILING_GRADES environment
// format, e.g. "O=10,A+=9,F=0" and "F,AB". Empty inputs fall back to defaults.
func Parse(pointsSpec, failingSpec string) (*Scale, error) {
	points := DefaultPoints
	if strings.TrimSpace(pointsSpec) != "" {
		points = make(map[string]float64)
		for _, pair := range strings.Split(pointsSpec, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			sym, val, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("grade scale: malformed entry %q (want SYMBOL=POINTS)", pair)
			}
			pts, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, fmt.Errorf("grade scale: points for %q: %w", sym, err)
			}
			points[sym] = pts
		}
	}

	failing := DefaultFailing
	if strings.TrimSpace(failingSpec) != "" {
		failing = nil
		for _, sym := range strings.Split(failingSpec, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				failing = append(failing, sym)
			}
		}
	}

	return NewScale(points, failing)
}

// Normalize trims and upper-cases a grade symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// PointsOf returns the grade points for symbol or an *UnknownGradeError.
func (s *Scale) PointsOf(symbol string) (float64, error) {
	pts, ok := s.points[Normalize(symbol)]
	if !ok {
		return 0, &UnknownGradeError{Grade: symbol}
	}
	return pts, nil
}

// IsFailing reports whether symbol counts as an arrear.
func (s *Scale) IsFailing(symbol string) bool {
	_, ok := s.failing[Normalize(symbol)]
	return ok
}

// Known reports whether symbol is part of the scale.
func (s *Scale) Known(symbol string) bool {
	_, ok := s.points[Normalize(symbol)]
	return ok
}

// Symbols lists the configured symbols, highest points first.
func (s *Scale) Symbols() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
