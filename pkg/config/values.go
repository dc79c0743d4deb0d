package config

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that reads from JSON as either a duration
// string ("1s", "500ms") or a number of seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case float64:
		*d = Duration(v * float64(time.Second))
	case string:
		parsed, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("duration must be a string or number, got %T", v)
	}
	return nil
}

// ParseDuration accepts time.ParseDuration syntax or a bare number of
// seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// DataSize is a byte count that reads from JSON as either a number or a
// human-friendly size ("512KB", "1MiB").
type DataSize int64

func (s DataSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(s))
}

func (s *DataSize) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case float64:
		if v < 0 {
			return fmt.Errorf("size must not be negative")
		}
		*s = DataSize(v)
	case string:
		n, err := ParseDataSize(v)
		if err != nil {
			return err
		}
		*s = DataSize(n)
	case nil:
		*s = 0
	default:
		return fmt.Errorf("size must be a string or number, got %T", v)
	}
	return nil
}

var sizePattern = regexp.MustCompile(`^([\d.]+)\s*([A-Za-z]*)$`)

var sizeUnits = map[string]float64{
	"":    1,
	"B":   1,
	"K":   1000,
	"KB":  1000,
	"M":   1000 * 1000,
	"MB":  1000 * 1000,
	"G":   1000 * 1000 * 1000,
	"GB":  1000 * 1000 * 1000,
	"KIB": 1 << 10,
	"MIB": 1 << 20,
	"GIB": 1 << 30,
}

// ParseDataSize parses sizes like "1024", "512KB" or "1.5MiB" into bytes.
// Decimal units are 1000-based and binary units 1024-based.
func ParseDataSize(s string) (int64, error) {
	m := sizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid size %q (expected e.g. 512KB or 1MiB)", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	mult, ok := sizeUnits[strings.ToUpper(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q", m[2])
	}

	bytes := value * mult
	if bytes > math.MaxInt64 {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return int64(bytes), nil
}
