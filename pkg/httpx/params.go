package httpx

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses an RFC3339 timestamp, a bare datetime or a date (UTC).
// An empty param returns the zero time.
func ParseTime(param string) (time.Time, error) {
	if param == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, param); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use YYYY-MM-DD or RFC3339", param)
}

// ParseFloat parses an optional float. An empty param returns 0.
func ParseFloat(param string) (float64, error) {
	if param == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(param, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", param)
	}
	return v, nil
}

// ParseInt parses an optional integer, returning def when empty
func ParseInt(param string, def int) (int, error) {
	if param == "" {
		return def, nil
	}
	v, err := strconv.Atoi(param)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", param)
	}
	return v, nil
}

// SplitList splits repeated or comma separated values, dropping blanks
func SplitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
