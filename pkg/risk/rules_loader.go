package risk

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleDoc is the on-disk shape of one operator rule.
type ruleDoc struct {
	Name   string `yaml:"name"`
	Expr   string `yaml:"expr"`
	Weight int    `yaml:"weight"`
}

// LoadRuleSet reads operator rules from a YAML file and compiles them. The
// file is a list of {name, expr, weight} entries. A missing name, empty
// expression, or non-compiling expression fails the whole load so a bad
// rules file is caught at startup, not at scoring time.
func LoadRuleSet(path string, logger *slog.Logger) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var docs []ruleDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	rules := make([]Rule, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for i, d := range docs {
		if d.Name == "" {
			return nil, fmt.Errorf("rules file %s: entry %d has no name", path, i)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("rules file %s: duplicate rule %q", path, d.Name)
		}
		seen[d.Name] = true
		if d.Expr == "" {
			return nil, fmt.Errorf("rules file %s: rule %q has no expression", path, d.Name)
		}
		rules = append(rules, Rule{Name: d.Name, Expr: d.Expr, Weight: d.Weight})
	}

	return NewRuleSet(rules, logger)
}
