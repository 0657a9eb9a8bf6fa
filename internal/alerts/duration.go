package alerts

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseWindow parses a suppress interval such as "30s", "5m", "2h", "1d" or
// a bare number of seconds. An empty string yields zero.
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}

	unit := time.Second
	switch s[len(s)-1] {
	case 's':
		s = s[:len(s)-1]
	case 'm':
		unit = time.Minute
		s = s[:len(s)-1]
	case 'h':
		unit = time.Hour
		s = s[:len(s)-1]
	case 'd':
		unit = 24 * time.Hour
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid window %q", s)
	}
	return time.Duration(n * float64(unit)), nil
}
