// Package categorizer assigns a category and a transfer flag to each
// transaction using an ordered, user-editable rule set.
//
// Rules are evaluated first-match-wins: sorted ascending by priority (stable,
// so equal priorities keep their sheet order), each rule's case-insensitive
// regex is tested against its configured field, then its optional amount
// condition against the signed amount. Transfer detection is independent of
// the rule table.
package categorizer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"fjacquet/bank-sync/internal/logging"
	"fjacquet/bank-sync/internal/models"
	"fjacquet/bank-sync/internal/syncerror"
)

const defaultPriority = 1000

// RuleSpec is one row of the CategoryMap tab, before validation.
type RuleSpec struct {
	Pattern         string
	Field           string
	Category        string
	Priority        string
	AmountCondition string
}

// Rule is a compiled category rule.
type Rule struct {
	Priority int
	Pattern  string
	Field    string
	Category string

	regex     *regexp.Regexp
	condition *AmountCondition
}

// Matches reports whether the rule's field pattern and amount condition both
// hold for the transaction.
func (r Rule) Matches(tx models.Transaction) bool {
	if !r.regex.MatchString(tx.FieldValue(r.Field)) {
		return false
	}
	if r.condition != nil && !r.condition.Matches(tx.Amount) {
		return false
	}
	return true
}

// BuildRules compiles rule specs into rules. Rows with an empty pattern are
// dropped; rows with a malformed regex or amount condition are skipped and
// reported so a single bad rule never aborts the run. Missing fields fall
// back to merchant_normalised / Uncategorised / priority 1000.
func BuildRules(specs []RuleSpec) ([]Rule, []*syncerror.RuleError) {
	var rules []Rule
	var skipped []*syncerror.RuleError
	for _, spec := range specs {
		pattern := strings.TrimSpace(spec.Pattern)
		if pattern == "" {
			continue
		}

		regex, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			skipped = append(skipped, &syncerror.RuleError{RuleSet: "category", Pattern: pattern, Err: err})
			continue
		}

		condition, err := ParseAmountCondition(spec.AmountCondition)
		if err != nil {
			skipped = append(skipped, &syncerror.RuleError{RuleSet: "category", Pattern: pattern, Err: err})
			continue
		}

		priority := defaultPriority
		if trimmed := strings.TrimSpace(spec.Priority); trimmed != "" {
			if parsed, err := strconv.Atoi(trimmed); err == nil {
				priority = parsed
			}
		}

		field := spec.Field
		if field == "" {
			field = models.FieldMerchantNormalised
		}
		category := spec.Category
		if category == "" {
			category = models.CategoryUncategorised
		}

		rules = append(rules, Rule{
			Priority:  priority,
			Pattern:   pattern,
			Field:     field,
			Category:  category,
			regex:     regex,
			condition: condition,
		})
	}
	return rules, skipped
}

// Categorizer evaluates a fixed, priority-ordered rule set.
type Categorizer struct {
	rules  []Rule
	logger logging.Logger
}

// New creates a Categorizer over the given rules. The rules are copied and
// stable-sorted by priority, so equal priorities retain their input order.
func New(rules []Rule, logger logging.Logger) *Categorizer {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &Categorizer{rules: sorted, logger: logger}
}

// Categorise returns the category of the first matching rule, or the
// Uncategorised sentinel when nothing matches.
func (c *Categorizer) Categorise(tx models.Transaction) string {
	for _, rule := range c.rules {
		if rule.Matches(tx) {
			c.logger.WithFields(
				logging.Field{Key: "id", Value: tx.ID},
				logging.Field{Key: "pattern", Value: rule.Pattern},
				logging.Field{Key: "category", Value: rule.Category},
			).Debug("Transaction categorised")
			return rule.Category
		}
	}
	return models.CategoryUncategorised
}

// Phrases denoting movement between the user's own accounts. Matched
// case-insensitively against both description and merchant, regardless of
// which category rule won.
var transferKeywords = []string{"transfer", "internal", "self", "bnz"}

// DetectTransfer reports whether the transaction looks like a self-transfer.
func DetectTransfer(tx models.Transaction) bool {
	description := strings.ToLower(tx.DescriptionRaw)
	merchant := strings.ToLower(tx.MerchantNormalised)
	for _, keyword := range transferKeywords {
		if strings.Contains(description, keyword) || strings.Contains(merchant, keyword) {
			return true
		}
	}
	return false
}

// Apply categorises the transaction and flags transfers in one step.
func (c *Categorizer) Apply(tx models.Transaction) (category string, isTransfer bool) {
	return c.Categorise(tx), DetectTransfer(tx)
}
