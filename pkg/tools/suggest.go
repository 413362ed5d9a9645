package tools

import "strings"

const maxSuggestions = 3

// Suggest returns up to three known tool names close to the unknown
// one, by prefix, substring or small edit distance.
func (r *Registry) Suggest(name string) []string {
	if name == "" {
		return nil
	}

	lower := strings.ToLower(name)
	var suggestions []string

	for _, candidate := range r.Names() {
		if len(suggestions) >= maxSuggestions {
			break
		}

		candLower := strings.ToLower(candidate)
		switch {
		case strings.HasPrefix(candLower, lower) || strings.HasPrefix(lower, candLower):
			suggestions = append(suggestions, candidate)
		case strings.Contains(candLower, lower) || strings.Contains(lower, candLower):
			suggestions = append(suggestions, candidate)
		case editDistance(lower, candLower) <= 2:
			suggestions = append(suggestions, candidate)
		}
	}

	return suggestions
}

// editDistance computes the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			curr[j] = prev[j] + 1
			if curr[j-1]+1 < curr[j] {
				curr[j] = curr[j-1] + 1
			}
			if prev[j-1]+cost < curr[j] {
				curr[j] = prev[j-1] + cost
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
