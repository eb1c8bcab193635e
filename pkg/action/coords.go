package action

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MaxCoord is the upper bound of the relative coordinate space on each axis.
const MaxCoord = 1000

// Point is a position in the relative [0,1000]x[0,1000] space.
type Point struct {
	X, Y int
}

// ToPixels maps p onto a width x height screen.
func (p Point) ToPixels(width, height int) (int, int) {
	x := math.Round(float64(p.X) / MaxCoord * float64(width))
	y := math.Round(float64(p.Y) / MaxCoord * float64(height))
	return int(x), int(y)
}

// ParsePoint parses a "[x,y]" field value.
func ParsePoint(s string) (Point, error) {
	inner := strings.TrimSpace(s)
	if !strings.HasPrefix(inner, "[") || !strings.HasSuffix(inner, "]") {
		return Point{}, fmt.Errorf("invalid coordinates %q: expected [x,y]", s)
	}
	parts := strings.Split(inner[1:len(inner)-1], ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("invalid coordinates %q: expected two values", s)
	}
	var xy [2]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return Point{}, fmt.Errorf("invalid coordinates %q: %w", s, err)
		}
		if n < 0 || n > MaxCoord {
			return Point{}, fmt.Errorf("invalid coordinates %q: %d outside [0,%d]", s, n, MaxCoord)
		}
		xy[i] = n
	}
	return Point{X: xy[0], Y: xy[1]}, nil
}

var leadingNumber = regexp.MustCompile(`^\s*([-+]?(?:\d+\.?\d*|\.\d+))`)

// ParseSeconds reads a number of seconds from values like "2", "1.5 seconds"
// or "3s".
func ParseSeconds(s string) (float64, error) {
	m := leadingNumber.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return strconv.ParseFloat(m[1], 64)
}
