package savecode

import "sort"

// sortCodes orders codes alphabetically with the active code first, so it is rejoined first.
func sortCodes(codes []string, active string) {
	sort.Slice(codes, func(i, j int) bool {
		if (codes[i] == active) != (codes[j] == active) {
			return codes[i] == active
		}
		return codes[i] < codes[j]
	})
}
