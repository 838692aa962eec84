package transcribe

import (
	"strconv"
	"strings"
)

// ParseTimecode converts a whisper.cpp segment timestamp ("HH:MM:SS.mmm")
// to milliseconds. Each field may have any width. A missing fractional part
// counts as 0 ms. Anything that does not parse returns 0.
func ParseTimecode(s string) int64 {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0
	}
	h, ok := parseField(parts[0])
	if !ok {
		return 0
	}
	m, ok := parseField(parts[1])
	if !ok {
		return 0
	}

	secs, frac, hasFrac := strings.Cut(parts[2], ".")
	sec, ok := parseField(secs)
	if !ok {
		return 0
	}
	var ms int64
	if hasFrac {
		if ms, ok = parseField(frac); !ok {
			return 0
		}
	}

	return h*3_600_000 + m*60_000 + sec*1_000 + ms
}

// maxTimecodeField keeps h*3600000 + m*60000 + s*1000 + ms well inside int64.
const maxTimecodeField = 1_000_000_000

// parseField accepts only unsigned decimal digits up to maxTimecodeField.
func parseField(s string) (int64, bool) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n > maxTimecodeField {
		return 0, false
	}
	return n, true
}
