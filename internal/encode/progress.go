package encode

import (
	"strconv"
	"strings"
)

// progressLine interprets one "key=value" line of ffmpeg's -progress output
// and returns the fraction of totalUS encoded so far.
func progressLine(line string, totalUS int64) (float64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}

	switch key {
	case "progress":
		if value == "end" {
			return 1, true
		}
		return 0, false
	case "out_time_us", "out_time_ms":
		// out_time_ms is in microseconds as well.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || totalUS <= 0 {
			return 0, false
		}
		return NormalizeProgress(float64(us) / float64(totalUS))
	}
	return 0, false
}
