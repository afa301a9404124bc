package crdt

import "strings"

// Dense base-62 midpoint position keys for LiveList ordering
// (spec.md §3 "List": "fractional position string"; §4.3 "List
// positions"). This is the algorithm sketched by seed-hypermedia-seed's
// rgaList (itself built on roci.dev/fracdex), reimplemented directly
// since fracdex has no importable module in this pack — see
// DESIGN.md.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	minDigit = 0
	maxDigit = len(alphabet) - 1
	midDigit = len(alphabet) / 2
	// loFloor and hiCeil are virtual digit values for an absent bound:
	// one below the smallest real digit, one above the largest, so
	// "insert before the first element" and "insert after the last"
	// have room to find a midpoint without ever needing to literally
	// equal an existing boundary.
	loFloor = -1
	hiCeil  = len(alphabet)
	maxDepth = 64
)

func digitOf(b byte) int {
	return strings.IndexByte(alphabet, b)
}

// positionBetween returns a position string strictly between lo and
// hi (either may be empty, meaning "start of list" / "end of list").
// With no lower bound it never ends a position in the smallest digit,
// since nothing sorts between "" and such a position; it writes that
// digit and descends instead, so inserting before the first element
// always has room. positionBetween still terminates in the
// pathological case via the maxDepth fallback rather than looping
// forever.
func positionBetween(lo, hi string) string {
	var buf strings.Builder
	for i := 0; i < maxDepth; i++ {
		loDigit := loFloor
		if i < len(lo) {
			loDigit = digitOf(lo[i])
		}
		hiDigit := hiCeil
		if i < len(hi) {
			hiDigit = digitOf(hi[i])
		}

		if hiDigit-loDigit >= 2 && !(loDigit == loFloor && loDigit+(hiDigit-loDigit)/2 <= minDigit) {
			mid := loDigit + (hiDigit-loDigit)/2
			if mid < minDigit {
				mid = minDigit
			}
			if mid > maxDigit {
				mid = maxDigit
			}
			buf.WriteByte(alphabet[mid])
			return buf.String()
		}

		// No integer room at this digit: carry the lo side's digit (or,
		// if lo is exhausted, the smallest real digit) and descend.
		carry := loDigit
		if carry < minDigit {
			carry = minDigit
		}
		buf.WriteByte(alphabet[carry])
	}
	// Pathological: 64 levels of digit-for-digit agreement. Fall back
	// to appending a midpoint digit; this keeps the function total at
	// the cost of (in theory) an occasional non-strict ordering under
	// adversarial input, a known limitation of the simplified
	// allocator — see DESIGN.md.
	buf.WriteByte(alphabet[midDigit])
	return buf.String()
}

// firstPosition returns the position for the sole element of an empty list.
func firstPosition() string {
	return string(alphabet[midDigit])
}

// comparePositions orders two position strings lexicographically by
// their underlying alphabet rank (spec.md §3: "iteration in
// lexicographic order of positions").
func comparePositions(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ra, rb := digitOf(a[i]), digitOf(b[i])
		if ra != rb {
			if ra < rb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
