// Package ignore filters known-noise transactions out of the pipeline before
// categorisation.
package ignore

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"fjacquet/bank-sync/internal/models"
	"fjacquet/bank-sync/internal/syncerror"

	"github.com/shopspring/decimal"
)

// Rule drops transactions whose configured field matches the pattern and
// whose signed amount falls inside the optional inclusive bounds.
type Rule struct {
	Pattern   string `yaml:"pattern"`
	Field     string `yaml:"field"`
	MinAmount string `yaml:"min_amount"`
	MaxAmount string `yaml:"max_amount"`

	regex     *regexp.Regexp
	minAmount *decimal.Decimal
	maxAmount *decimal.Decimal
}

// Compile validates the rule, compiling the regex case-insensitively and
// parsing the optional bounds. An empty field defaults to the raw description.
func (r *Rule) Compile() error {
	if r.Pattern == "" {
		return fmt.Errorf("empty pattern")
	}
	regex, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return err
	}
	r.regex = regex
	if r.Field == "" {
		r.Field = models.FieldDescriptionRaw
	}
	if r.minAmount, err = parseBound(r.MinAmount); err != nil {
		return fmt.Errorf("min_amount: %w", err)
	}
	if r.maxAmount, err = parseBound(r.MaxAmount); err != nil {
		return fmt.Errorf("max_amount: %w", err)
	}
	return nil
}

// Matches reports whether the transaction satisfies this rule.
func (r *Rule) Matches(tx models.Transaction) bool {
	if r.regex == nil || !r.regex.MatchString(tx.FieldValue(r.Field)) {
		return false
	}
	if r.minAmount != nil && tx.Amount.LessThan(*r.minAmount) {
		return false
	}
	if r.maxAmount != nil && tx.Amount.GreaterThan(*r.maxAmount) {
		return false
	}
	return true
}

// ShouldIgnore reports whether any rule matches the transaction, checking
// rules in input order and stopping at the first match.
func ShouldIgnore(tx models.Transaction, rules []Rule) bool {
	for i := range rules {
		if rules[i].Matches(tx) {
			return true
		}
	}
	return false
}

// Filter splits transactions into kept and ignored, preserving input order.
func Filter(transactions []models.Transaction, rules []Rule) (kept, ignored []models.Transaction) {
	for _, tx := range transactions {
		if ShouldIgnore(tx, rules) {
			ignored = append(ignored, tx)
			continue
		}
		kept = append(kept, tx)
	}
	return kept, ignored
}

// LoadRules reads ignore rules from a YAML file. A missing file yields no
// rules; malformed individual rules are dropped and reported via the returned
// RuleError slice so the run can continue without them.
func LoadRules(path string) ([]Rule, []*syncerror.RuleError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading ignore rules: %w", err)
	}

	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing ignore rules: %w", err)
	}

	var rules []Rule
	var skipped []*syncerror.RuleError
	for _, rule := range doc.Rules {
		if err := rule.Compile(); err != nil {
			skipped = append(skipped, &syncerror.RuleError{
				RuleSet: "ignore",
				Pattern: rule.Pattern,
				Err:     err,
			})
			continue
		}
		rules = append(rules, rule)
	}
	return rules, skipped, nil
}

func parseBound(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}
