// Package picotime implements the (seconds, picoseconds) timestamp pair
// used throughout DPMI capture headers (spec §3 "Picotime").
package picotime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PerSec is the number of picoseconds in one second; psec is always in
// [0, PerSec).
const PerSec = 1_000_000_000_000

// Picotime is a (sec, psec) pair with 0 <= Psec < PerSec.
type Picotime struct {
	Sec  uint32
	Psec uint64
}

// New builds a normalized Picotime, carrying any psec overflow into sec.
func New(sec uint32, psec uint64) Picotime {
	extra := psec / PerSec
	return Picotime{Sec: sec + uint32(extra), Psec: psec % PerSec}
}

// Compare returns -1, 0, or 1 as a is before, equal to, or after b.
func Compare(a, b Picotime) int {
	switch {
	case a.Sec < b.Sec:
		return -1
	case a.Sec > b.Sec:
		return 1
	case a.Psec < b.Psec:
		return -1
	case a.Psec > b.Psec:
		return 1
	default:
		return 0
	}
}

// Before reports whether a happens strictly before b.
func (a Picotime) Before(b Picotime) bool { return Compare(a, b) < 0 }

// After reports whether a happens strictly after b.
func (a Picotime) After(b Picotime) bool { return Compare(a, b) > 0 }

// Add returns a+b, carrying psec overflow into sec.
func Add(a, b Picotime) Picotime {
	psec := a.Psec + b.Psec
	sec := a.Sec + b.Sec
	if psec >= PerSec {
		psec -= PerSec
		sec++
	}
	return Picotime{Sec: sec, Psec: psec}
}

// Sub returns a-b. The caller must ensure a >= b; if b > a the result
// saturates at the zero Picotime rather than wrapping, since the type has
// no sign bit.
func Sub(a, b Picotime) Picotime {
	if Compare(a, b) < 0 {
		return Picotime{}
	}
	sec := a.Sec - b.Sec
	var psec uint64
	if a.Psec >= b.Psec {
		psec = a.Psec - b.Psec
	} else {
		// borrow a second
		sec--
		psec = PerSec + a.Psec - b.Psec
	}
	return Picotime{Sec: sec, Psec: psec}
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"20060102 15:04:05",
	"060102 15:04:05",
}

// Parse accepts "YYYY-MM-DD HH:MM:SS", "YYYYMMDD HH:MM:SS",
// "YYMMDD HH:MM:SS", or a bare unix-seconds integer, each optionally
// followed by ".FRAC" where FRAC is 1-12 digits. FRAC is left-zero-padded
// to 12 digits to form the picosecond component.
func Parse(s string) (Picotime, error) {
	s = strings.TrimSpace(s)
	whole, frac, hasFrac := s, "", false
	if idx := strings.LastIndexByte(s, '.'); idx >= 0 {
		// Only treat this as a fractional-second separator when what
		// follows is all digits (guards against date forms with no dot).
		candidate := s[idx+1:]
		if candidate != "" && isAllDigits(candidate) {
			whole, frac, hasFrac = s[:idx], candidate, true
		}
	}

	var sec uint32
	if ts, err := strconv.ParseInt(whole, 10, 64); err == nil && !strings.ContainsAny(whole, " -") {
		if ts < 0 {
			return Picotime{}, fmt.Errorf("picotime: negative unix seconds %q", whole)
		}
		sec = uint32(ts)
	} else {
		parsed := false
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, whole, time.UTC); err == nil {
				sec = uint32(t.Unix())
				parsed = true
				break
			}
		}
		if !parsed {
			return Picotime{}, fmt.Errorf("picotime: unrecognised time %q", whole)
		}
	}

	var psec uint64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 12 {
			return Picotime{}, fmt.Errorf("picotime: fractional part must be 1-12 digits, got %q", frac)
		}
		padded := frac + strings.Repeat("0", 12-len(frac))
		v, err := strconv.ParseUint(padded, 10, 64)
		if err != nil {
			return Picotime{}, fmt.Errorf("picotime: invalid fractional part %q: %w", frac, err)
		}
		psec = v
	}

	return Picotime{Sec: sec, Psec: psec}, nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Format renders t using a strftime-style pattern; only the second
// component is formatted, the picosecond fraction is dropped as specified.
func Format(t Picotime, pattern string) string {
	tm := time.Unix(int64(t.Sec), 0).UTC()
	return strftime(tm, pattern)
}

// strftime implements the small subset of strftime conversions DPMI needs
// for capture-file/report timestamps.
func strftime(t time.Time, pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' || i == len(pattern)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch pattern[i] {
		case 'Y':
			fmt.Fprintf(&b, "%04d", t.Year())
		case 'y':
			fmt.Fprintf(&b, "%02d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(pattern[i])
		}
	}
	return b.String()
}

// String renders t in the canonical "YYYY-MM-DD HH:MM:SS.FFFFFFFFFFFF" form
// used for round-trip parsing (spec §8 "Picotime round-trip").
func (t Picotime) String() string {
	return fmt.Sprintf("%s.%012d", Format(t, "%Y-%m-%d %H:%M:%S"), t.Psec)
}
