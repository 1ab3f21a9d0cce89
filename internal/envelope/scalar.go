package envelope

import (
	"bytes"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/syncflow/internal/runtime/jsoncodec"
)

// Text is a source value rendered verbatim. JSON null becomes empty and
// numbers or booleans keep their literal spelling.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	s, err := scalar(data)
	*t = Text(s)
	return err
}

func (t Text) String() string { return string(t) }

// Integer is a numeric source value rendered as an integer string. The
// source system reports numbers as floating point, so 1000.0 becomes 1000.
type Integer string

func (i *Integer) UnmarshalJSON(data []byte) error {
	s, err := scalar(data)
	*i = Integer(NormalizeInteger(s))
	return err
}

func (i Integer) String() string { return string(i) }

// ClockTime is a time of day rendered as HH:MM:SS.
type ClockTime string

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	s, err := scalar(data)
	*c = ClockTime(NormalizeClock(s))
	return err
}

func (c ClockTime) String() string { return string(c) }

func scalar(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return "", nil
	case data[0] == '"':
		var s string
		err := jsoncodec.Unmarshal(data, &s)
		return s, err
	}
	return string(data), nil
}

var integerText = regexp.MustCompile(`^[+-]?[0-9]+$`)

// NormalizeInteger truncates any fractional part of a numeric string. Values
// that are not numbers are returned unchanged so schema validation can
// reject them.
func NormalizeInteger(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || integerText.MatchString(s) {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return raw
	}
	return strconv.FormatFloat(math.Trunc(f), 'f', 0, 64)
}

var clockLayouts = []string{
	"15:04:05.000Z07:00",
	"15:04:05Z07:00",
	"15:04:05.999999999",
	"15:04:05",
	"15:04",
}

// NormalizeClock renders a time of day as HH:MM:SS, dropping fractions and
// zone designators such as in 09:30:00.000Z.
func NormalizeClock(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.TimeOnly)
		}
	}
	return raw
}
