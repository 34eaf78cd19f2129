package market

import (
	"fmt"
	"strconv"
	"time"
	"unicode"
)

// Timeframe is a bar interval in the compact exchange notation, e.g. "5m", "1h", "1d".
type Timeframe struct {
	Count int
	Unit  byte // 's', 'm', 'h', 'd', 'w'
}

// ParseTimeframe parses a "<number><unit>" timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	if len(s) < 2 {
		return Timeframe{}, fmt.Errorf("invalid timeframe %q: want <number><unit>", s)
	}
	numEnd := 0
	for numEnd < len(s) && unicode.IsDigit(rune(s[numEnd])) {
		numEnd++
	}
	if numEnd == 0 || numEnd != len(s)-1 {
		return Timeframe{}, fmt.Errorf("invalid timeframe %q: want <number><unit>", s)
	}
	n, err := strconv.Atoi(s[:numEnd])
	if err != nil || n <= 0 {
		return Timeframe{}, fmt.Errorf("invalid timeframe %q: count must be a positive integer", s)
	}
	unit := s[numEnd]
	switch unit {
	case 's', 'm', 'h', 'd', 'w':
	default:
		return Timeframe{}, fmt.Errorf("invalid timeframe %q: unknown unit %q", s, string(unit))
	}
	return Timeframe{Count: n, Unit: unit}, nil
}

// Duration converts the timeframe to a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	base := map[byte]time.Duration{
		's': time.Second,
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
	}[tf.Unit]
	return time.Duration(tf.Count) * base
}

func (tf Timeframe) String() string {
	return strconv.Itoa(tf.Count) + string(tf.Unit)
}
