package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TemplateContext is what step argument templates can reference: the
// triggering payload and the decoded results of earlier steps.
type TemplateContext struct {
	Payload map[string]any
	Steps   []StepOutcome
}

// StepOutcome is the per-step view exposed to templates as steps[n].
type StepOutcome struct {
	Result any `json:"result"`
}

var templateTokenRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ResolveArguments walks an argument tree and substitutes {{path}} tokens
// against the template context. A string that is exactly one token keeps
// the referenced value's type; tokens embedded in a longer string are
// stringified in place. A path that references nothing resolves to its own
// literal token text. Syntactically invalid paths fail resolution.
func ResolveArguments(args map[string]any, tc TemplateContext) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	resolved, err := resolveValue(args, tc)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func resolveValue(v any, tc TemplateContext) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, tc)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			r, err := resolveValue(inner, tc)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			r, err := resolveValue(inner, tc)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, tc TemplateContext) (any, error) {
	matches := templateTokenRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-token strings keep the referenced value's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		value, found, err := lookupPath(path, tc)
		if err != nil {
			return nil, err
		}
		if !found {
			return s, nil
		}
		return value, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		path := s[m[2]:m[3]]
		value, found, err := lookupPath(path, tc)
		if err != nil {
			return nil, err
		}
		if !found {
			b.WriteString(s[m[0]:m[1]])
		} else {
			b.WriteString(stringify(value))
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

// lookupPath resolves a dotted path with optional [n] indexing against the
// template context. Paths must be rooted at payload or steps. Returns
// found=false when any segment is absent.
func lookupPath(path string, tc TemplateContext) (any, bool, error) {
	segments, err := parsePath(path)
	if err != nil {
		return nil, false, err
	}

	var current any
	switch segments[0].name {
	case "payload":
		current = tc.Payload
	case "steps":
		outcomes := make([]any, len(tc.Steps))
		for i, s := range tc.Steps {
			outcomes[i] = map[string]any{"result": s.Result}
		}
		current = outcomes
	default:
		return nil, false, fmt.Errorf("%w: path %q must start with payload or steps", ErrBadTemplate, path)
	}

	for i, seg := range segments {
		if i > 0 {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false, nil
			}
			current, ok = m[seg.name]
			if !ok {
				return nil, false, nil
			}
		}
		for _, idx := range seg.indices {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false, nil
			}
			current = arr[idx]
		}
	}
	return current, true, nil
}

type pathSegment struct {
	name    string
	indices []int
}

var segmentRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_-]*)((?:\[\d+\])*)$`)

func parsePath(path string) ([]pathSegment, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrBadTemplate)
	}
	parts := strings.Split(path, ".")
	segments := make([]pathSegment, 0, len(parts))
	for _, part := range parts {
		m := segmentRe.FindStringSubmatch(part)
		if m == nil {
			return nil, fmt.Errorf("%w: invalid path segment %q in %q", ErrBadTemplate, part, path)
		}
		seg := pathSegment{name: m[1]}
		for _, raw := range strings.Split(m[2], "]") {
			if raw == "" {
				continue
			}
			idx, err := strconv.Atoi(strings.TrimPrefix(raw, "["))
			if err != nil {
				return nil, fmt.Errorf("%w: invalid index in %q", ErrBadTemplate, path)
			}
			seg.indices = append(seg.indices, idx)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}
