package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseInterval parses an interval written either as a Go duration ("55m",
// "2h30m") or as HH:MM ("00:50" is fifty minutes). An "every:" or
// "interval:" prefix is accepted and ignored.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	for _, prefix := range []string{"every:", "interval:"} {
		if strings.HasPrefix(low, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			break
		}
	}
	if s == "" {
		return 0, fmt.Errorf("interval required")
	}
	if strings.HasPrefix(low, "cron:") || strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return 0, fmt.Errorf("%w: %q", ErrCronUnsupported, raw)
	}

	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", raw)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("interval must be > 0")
		}
		return d, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM or a duration like '55m')", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
