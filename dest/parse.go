package dest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Parse converts authored text into a Destination.
//
//	+0x10, -16   relative delta from the branch
//	0x80, 128    absolute offset
//	anything     label name
//
// Parse only fails when a relative delta does not fit in 32 bits.
func Parse(text string) (Destination, error) {
	if strings.HasPrefix(text, "+") || strings.HasPrefix(text, "-") {
		mag, err := parseUint(text[1:], 64)
		switch {
		case errors.Is(err, strconv.ErrRange):
			return Destination{}, fmt.Errorf("%w: relative %s", ErrRange, text)
		case err != nil:
			return NewLabel(text), nil
		}
		delta := int64(mag)
		if text[0] == '-' {
			if mag > -math.MinInt32 {
				return Destination{}, fmt.Errorf("%w: relative %s", ErrRange, text)
			}
			delta = -delta
		} else if mag > math.MaxInt32 {
			return Destination{}, fmt.Errorf("%w: relative %s", ErrRange, text)
		}
		return NewRelative(int32(delta)), nil
	}

	// an absolute literal too wide for 32 bits is not a number either
	offset, err := parseUint(text, 32)
	if err != nil {
		return NewLabel(text), nil
	}
	return NewAbsolute(uint32(offset)), nil
}

// MustParse is like Parse but panics on error. It is meant for literals in
// tests and tables.
func MustParse(text string) Destination {
	d, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return d
}

// parseUint accepts a 0x-prefixed hex literal or a bare decimal literal.
func parseUint(s string, bits int) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, bits)
	}
	return strconv.ParseUint(s, 10, bits)
}
