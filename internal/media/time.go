package media

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidTime is returned when a rational time cannot be parsed or has a
// non-positive timescale.
var ErrInvalidTime = errors.New("media: invalid time")

// Time is a rational media time: Value/Timescale seconds.
// Durations are kept rational so clips with unrelated timescales can be
// compared without floating point drift.
type Time struct {
	Value     int64
	Timescale int32
}

// Zero is the zero time.
var Zero = Time{Value: 0, Timescale: 1}

// NewTime creates a Time of value/timescale seconds.
func NewTime(value int64, timescale int32) Time {
	return Time{Value: value, Timescale: timescale}
}

// Seconds creates a Time from whole seconds.
func Seconds(s int64) Time {
	return Time{Value: s, Timescale: 1}
}

// IsValid reports whether the timescale is positive.
func (t Time) IsValid() bool {
	return t.Timescale > 0
}

// IsPositive reports whether t is valid and strictly greater than zero.
func (t Time) IsPositive() bool {
	return t.IsValid() && t.Value > 0
}

// Rat returns t as an exact big.Rat. Invalid times map to zero.
func (t Time) Rat() *big.Rat {
	if !t.IsValid() {
		return new(big.Rat)
	}
	return big.NewRat(t.Value, int64(t.Timescale))
}

// Compare returns -1, 0 or +1 depending on whether t is less than, equal to
// or greater than u. The comparison is exact.
func (t Time) Compare(u Time) int {
	return t.Rat().Cmp(u.Rat())
}

// Equal reports whether t and u denote the same instant, regardless of timescale.
func (t Time) Equal(u Time) bool {
	return t.Compare(u) == 0
}

// Add returns t+u reduced to lowest terms.
func (t Time) Add(u Time) Time {
	return fromRat(new(big.Rat).Add(t.Rat(), u.Rat()))
}

// Sub returns t-u reduced to lowest terms.
func (t Time) Sub(u Time) Time {
	r := new(big.Rat).Sub(t.Rat(), u.Rat())
	return fromRat(r)
}

// Float returns t in seconds as a float64. Use only for display and for
// handing values to tools that take decimal seconds.
func (t Time) Float() float64 {
	f, _ := t.Rat().Float64()
	return f
}

// Microseconds returns t truncated to whole microseconds.
func (t Time) Microseconds() int64 {
	r := new(big.Rat).Mul(t.Rat(), big.NewRat(1_000_000, 1))
	return new(big.Int).Quo(r.Num(), r.Denom()).Int64()
}

// Decimal formats t as decimal seconds with microsecond precision, the form
// ffmpeg accepts for durations.
func (t Time) Decimal() string {
	return t.Rat().FloatString(6)
}

// String returns the rational form, e.g. "7/1".
func (t Time) String() string {
	return fmt.Sprintf("%d/%d", t.Value, t.Timescale)
}

// MaxTime returns the greatest of ts. It returns Zero for an empty input.
// When several values are equal the first one is returned unchanged.
func MaxTime(ts ...Time) Time {
	maxT := Zero
	for i, t := range ts {
		if i == 0 || t.Compare(maxT) > 0 {
			maxT = t
		}
	}
	return maxT
}

// ParseRational parses "num/den" (an ffprobe time_base) into a big.Rat.
func ParseRational(s string) (*big.Rat, error) {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	r, ok := new(big.Rat).SetString(num + "/" + den)
	if !ok || r.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return r, nil
}

// ParseDecimalSeconds converts a decimal duration such as "5.005333" to a
// Time on a microsecond timescale.
func ParseDecimalSeconds(s string) (Time, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok || r.Sign() < 0 {
		return Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	r.Mul(r, big.NewRat(1_000_000, 1))
	us := new(big.Int).Quo(r.Num(), r.Denom())
	if !us.IsInt64() {
		return Time{}, fmt.Errorf("%w: %q out of range", ErrInvalidTime, s)
	}
	return Time{Value: us.Int64(), Timescale: 1_000_000}, nil
}

// fromRat converts an exact rational to a Time, reducing to lowest terms.
// Denominators that do not fit a timescale are rounded to microseconds.
func fromRat(r *big.Rat) Time {
	if r.Num().IsInt64() && r.Denom().IsInt64() && r.Denom().Int64() <= 1<<31-1 {
		return Time{Value: r.Num().Int64(), Timescale: int32(r.Denom().Int64())}
	}
	us := new(big.Rat).Mul(r, big.NewRat(1_000_000, 1))
	return Time{Value: new(big.Int).Quo(us.Num(), us.Denom()).Int64(), Timescale: 1_000_000}
}
