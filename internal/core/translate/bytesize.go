package translate

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// =============================================================================
// Byte Sizes
// =============================================================================

// byteSizeRegex narrows what units.RAMInBytes accepts to the compose size
// grammar: an integer amount with an optional b, k, m or g suffix.
// Groups:
//   - Group 1: amount
//   - Group 2: multiple (k, m, g), optionally followed by "b" as in "mb"
var byteSizeRegex = regexp.MustCompile(`^(\d+) ?(?:([kmg])b?|b)?$`)

var byteUnits = map[string]int64{
	"":  1,
	"k": units.KiB,
	"m": units.MiB,
	"g": units.GiB,
}

// maxExactAmount bounds the amount so the float conversion in
// units.RAMInBytes stays exact.
const maxExactAmount = 1 << 53

// ParseByteSize parses a size such as "512M", "1g", "64kb" or "1024" into a
// byte count. Suffixes are case-insensitive binary multiples. Fractional
// amounts and suffixes beyond g are rejected.
func ParseByteSize(s string) (int64, error) {
	return parseByteSize("", s)
}

func parseByteSize(field, s string) (int64, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(normalized, "-") {
		return 0, &InvalidResourceLimit{Field: field, Value: s, Reason: "must not be negative"}
	}

	m := byteSizeRegex.FindStringSubmatch(normalized)
	if m == nil {
		return 0, &InvalidResourceLimit{Field: field, Value: s, Reason: "expected an integer with optional suffix b, k, m or g"}
	}

	amount, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || amount >= maxExactAmount || amount > math.MaxInt64/byteUnits[m[2]] {
		return 0, &InvalidResourceLimit{Field: field, Value: s, Reason: "amount out of range"}
	}

	n, err := units.RAMInBytes(normalized)
	if err != nil {
		return 0, &InvalidResourceLimit{Field: field, Value: s, Reason: err.Error()}
	}
	return n, nil
}

// FormatByteSize renders n with the largest suffix that divides it exactly,
// so that ParseByteSize(FormatByteSize(n)) == n wherever the rendered amount
// is below 2^53.
func FormatByteSize(n int64) string {
	if n != 0 {
		for _, u := range []struct {
			suffix string
			size   int64
		}{{"g", units.GiB}, {"m", units.MiB}, {"k", units.KiB}} {
			if n%u.size == 0 {
				return strconv.FormatInt(n/u.size, 10) + u.suffix
			}
		}
	}
	return strconv.FormatInt(n, 10)
}
