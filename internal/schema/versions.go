package schema

import (
	"strconv"
	"strings"
)

// CompareVersions orders schema versions as dotted numeric tuples
// ("1.10" > "1.9"). If either version has a non-numeric segment the
// whole comparison falls back to plain lexicographic order.
func CompareVersions(a, b string) int {
	aParts, aOK := parseNumeric(a)
	bParts, bOK := parseNumeric(b)

	if !aOK || !bOK {
		return strings.Compare(a, b)
	}

	n := len(aParts)
	if len(bParts) > n {
		n = len(bParts)
	}

	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(aParts) {
			av = aParts[i]
		}
		if i < len(bParts) {
			bv = bParts[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}

	return 0
}

func parseNumeric(version string) ([]int, bool) {
	raw := strings.Split(version, ".")
	parts := make([]int, 0, len(raw))
	for _, seg := range raw {
		n, err := strconv.Atoi(strings.TrimSpace(seg))
		if err != nil || n < 0 {
			return nil, false
		}
		parts = append(parts, n)
	}
	return parts, true
}
