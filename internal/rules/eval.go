package rules

import (
	"fmt"
	"regexp"
	"strings"

	"mailroom/internal/models"
)

// evalCondition compares one extracted field value against a match
// value. It is a pure function; all rule context stays in the engine.
//
// Malformed regular expressions evaluate to false for regex and true
// for not_regex, so a broken expression never skips a message.
func evalCondition(op models.Operator, fieldValue, matchValue string, caseSensitive bool) (bool, error) {
	f, m := fieldValue, matchValue
	if !caseSensitive && op != models.OpRegex && op != models.OpNotRegex {
		f = strings.ToLower(f)
		m = strings.ToLower(m)
	}

	switch op {
	case models.OpContains:
		return strings.Contains(f, m), nil
	case models.OpNotContains:
		return !strings.Contains(f, m), nil
	case models.OpEquals:
		return f == m, nil
	case models.OpNotEquals:
		return f != m, nil
	case models.OpStartsWith:
		return strings.HasPrefix(f, m), nil
	case models.OpEndsWith:
		return strings.HasSuffix(f, m), nil
	case models.OpRegex:
		matched, err := matchRegex(m, f, caseSensitive)
		if err != nil {
			return false, err
		}
		return matched, nil
	case models.OpNotRegex:
		matched, err := matchRegex(m, f, caseSensitive)
		if err != nil {
			return true, err
		}
		return !matched, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func matchRegex(pattern, value string, caseSensitive bool) (bool, error) {
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("malformed regex %q: %w", pattern, err)
	}
	return re.MatchString(value), nil
}
