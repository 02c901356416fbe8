package categorizer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountCondition is a parsed predicate over a transaction's signed amount.
// It is either a single comparison (">20", "<=-5") or an exact-value list
// ("5, 10 OR 15"); a bare number is treated as equality.
type AmountCondition struct {
	operator  string
	threshold decimal.Decimal
	values    []decimal.Decimal
}

var (
	comparisonRe = regexp.MustCompile(`^(>=|<=|>|<|==|=)\$?(-?\d+(?:\.\d+)?)$`)
	bareNumberRe = regexp.MustCompile(`^\$?(-?\d+(?:\.\d+)?)$`)
)

// Phrases users write in the rule sheet, normalised to operator symbols.
// Longer phrases come first so "no more than" is not rewritten as "no >"
// and "greater than or equal to" does not leave a dangling "or equal to".
var phraseReplacements = []struct {
	phrase string
	symbol string
}{
	{"greater than or equal to", ">="},
	{"less than or equal to", "<="},
	{"no more than", "<="},
	{"no less than", ">="},
	{"greater than", ">"},
	{"more than", ">"},
	{"less than", "<"},
	{"fewer than", "<"},
	{"at least", ">="},
	{"at most", "<="},
	{"equal to", "="},
}

// ParseAmountCondition parses the amount_condition column of a category rule.
// Empty input yields a nil condition, meaning the rule matches any amount.
func ParseAmountCondition(raw string) (*AmountCondition, error) {
	text := strings.TrimSpace(strings.ToLower(raw))
	if text == "" {
		return nil, nil
	}

	for _, replacement := range phraseReplacements {
		text = strings.ReplaceAll(text, replacement.phrase, replacement.symbol)
	}
	text = strings.ReplaceAll(text, "dollars", "")
	text = strings.ReplaceAll(text, "dollar", "")
	text = strings.ReplaceAll(text, "nz$", "$")
	text = strings.ReplaceAll(text, "nzd", "")

	// Exact-value lists: "5, 10 OR 15" matches any listed amount.
	if parts := splitValueList(text); len(parts) > 1 {
		values := make([]decimal.Decimal, 0, len(parts))
		for _, part := range parts {
			match := bareNumberRe.FindStringSubmatch(strings.ReplaceAll(part, " ", ""))
			if match == nil {
				return nil, fmt.Errorf("unrecognised amount condition %q", raw)
			}
			value, err := decimal.NewFromString(match[1])
			if err != nil {
				return nil, fmt.Errorf("unrecognised amount condition %q", raw)
			}
			values = append(values, value)
		}
		return &AmountCondition{values: values}, nil
	}

	compact := strings.ReplaceAll(text, " ", "")

	if match := comparisonRe.FindStringSubmatch(compact); match != nil {
		operator := match[1]
		if operator == "==" {
			operator = "="
		}
		threshold, err := decimal.NewFromString(match[2])
		if err != nil {
			return nil, fmt.Errorf("unrecognised amount condition %q", raw)
		}
		return &AmountCondition{operator: operator, threshold: threshold}, nil
	}

	// A condition with no recognisable operator and a bare number is equality.
	if match := bareNumberRe.FindStringSubmatch(compact); match != nil {
		value, err := decimal.NewFromString(match[1])
		if err != nil {
			return nil, fmt.Errorf("unrecognised amount condition %q", raw)
		}
		return &AmountCondition{operator: "=", threshold: value}, nil
	}

	return nil, fmt.Errorf("unrecognised amount condition %q", raw)
}

// Matches evaluates the condition against a signed amount.
func (c *AmountCondition) Matches(amount decimal.Decimal) bool {
	if len(c.values) > 0 {
		for _, value := range c.values {
			if amount.Equal(value) {
				return true
			}
		}
		return false
	}
	switch c.operator {
	case ">":
		return amount.GreaterThan(c.threshold)
	case ">=":
		return amount.GreaterThanOrEqual(c.threshold)
	case "<":
		return amount.LessThan(c.threshold)
	case "<=":
		return amount.LessThanOrEqual(c.threshold)
	case "=":
		return amount.Equal(c.threshold)
	default:
		return false
	}
}

func splitValueList(text string) []string {
	normalised := strings.ReplaceAll(text, " or ", ",")
	parts := strings.Split(normalised, ",")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			cleaned = append(cleaned, part)
		}
	}
	return cleaned
}
