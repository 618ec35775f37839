package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Seann-Moser/servosched/pkg/servo"
)

// ParsePulseDuration reads a timing field. An empty field yields def. A bare
// integer is taken as microseconds, the unit servo datasheets use; anything
// else must be a Go duration such as "1.5ms". Zero and negative values are
// rejected since every timing constant is a strictly positive interval.
func ParsePulseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	var d time.Duration
	if us, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(us) * time.Microsecond
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: %w: %q must be positive", path, servo.ErrInvalidTiming, raw)
	}
	return d, nil
}
