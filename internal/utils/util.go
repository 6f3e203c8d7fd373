package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

func EscapeMd(s string) string {
	repl := []string{"*", "\\*", "_", "\\_", "`", "\\`", "~", "\\~"}
	r := strings.NewReplacer(repl...)
	return r.Replace(s)
}

func PrettyTime(sec int) string {
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

var reDur = regexp.MustCompile(`(?i)^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// ParseDurationString accepts plain seconds ("90"), colon notation
// ("1:30", "1:02:03") or unit notation ("1h2m3s") and returns seconds.
func ParseDurationString(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) > 3 {
			return 0
		}
		total := 0
		for _, p := range parts {
			v, err := strconv.Atoi(p)
			if err != nil {
				return 0
			}
			total = total*60 + v
		}
		return total
	}
	m := reDur.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	return Atoi(m[1])*3600 + Atoi(m[2])*60 + Atoi(m[3])
}

func Atoi(s string) int {
	if s == "" {
		return 0
	}
	v, _ := strconv.Atoi(s)
	return v
}
