package router

import "strings"

// specificity scores a route pattern so that, when more than one configured
// route's path prefix could match the same request, the most specific one
// (fewest params, longest literal path, non-prefix over prefix) wins.
func specificity(pattern string, prefix bool) int {
	segments := splitPath(pattern)
	score := 0
	for _, seg := range segments {
		if strings.HasPrefix(seg, ":") || strings.HasPrefix(seg, "{") {
			score += 10
		} else {
			score += 100
		}
	}
	if !prefix {
		score += 5
	}
	return score
}

// methodSet builds a lookup set from a method list. A nil/empty list means
// "all methods allowed".
func methodSet(methods []string) map[string]bool {
	if len(methods) == 0 {
		return nil
	}
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[strings.ToUpper(m)] = true
	}
	return set
}
