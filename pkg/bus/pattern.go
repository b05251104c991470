package bus

import (
	"fmt"
	"regexp"
	"strings"
)

// CompilePattern converts a subscription glob into an anchored regular
// expression. Two wildcards are supported:
//
//   - `*`  matches any non-empty run of [a-z:-] characters, so "scrum:*"
//     matches "scrum:sprint-completed".
//   - `**` matches everything, including the empty string.
//
// All other characters match literally and must be valid event-name
// characters. Matching is case-sensitive.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}

	var sb strings.Builder
	sb.WriteByte('^')
	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			sb.WriteString(".*")
			i += 2
		case pattern[i] == '*':
			sb.WriteString("[a-z:-]+")
			i++
		case pattern[i] == ':' || pattern[i] == '-' ||
			(pattern[i] >= 'a' && pattern[i] <= 'z'):
			sb.WriteByte(pattern[i])
			i++
		default:
			return nil, fmt.Errorf("%w: %q contains invalid character %q",
				ErrInvalidPattern, pattern, string(pattern[i]))
		}
	}
	sb.WriteByte('$')

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}
	return re, nil
}
