package ignore

import (
	"bufio"
	"io"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Rule is one parsed line of an ignore file.
type Rule struct {
	Pattern       string
	Negation      bool
	DirectoryOnly bool
	Origin        string // file the rule was read from

	pattern gitignore.Pattern
}

// Match reports how the rule applies to path, given as components relative
// to the repository root.
func (r Rule) Match(path []string, isDir bool) gitignore.MatchResult {
	return r.pattern.Match(path, isDir)
}

// ParseRule parses a single ignore line. domain is the directory holding
// the ignore file, as components relative to the repository root; patterns
// are anchored there. It returns false for blank lines and comments.
func ParseRule(line string, domain []string, origin string) (Rule, bool) {
	line = strings.TrimSuffix(line, "\r")
	trimmed := strings.TrimRight(line, " \t")
	if strings.HasSuffix(line, `\ `) {
		trimmed += " "
	}
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Rule{}, false
	}

	rule := Rule{
		Pattern: trimmed,
		Origin:  origin,
		pattern: gitignore.ParsePattern(trimmed, domain),
	}
	body := trimmed
	if strings.HasPrefix(body, "!") {
		rule.Negation = true
		body = body[1:]
	}
	rule.DirectoryOnly = strings.HasSuffix(body, "/")
	return rule, true
}

// ParseRules reads every rule from r.
func ParseRules(r io.Reader, domain []string, origin string) ([]Rule, error) {
	var rules []Rule
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if rule, ok := ParseRule(scanner.Text(), domain, origin); ok {
			rules = append(rules, rule)
		}
	}
	return rules, scanner.Err()
}

// evaluate walks rule lists from the most specific (last) to the least
// specific (first); the first rule that matches decides.
func evaluate(lists [][]Rule, path []string, isDir bool) bool {
	for i := len(lists) - 1; i >= 0; i-- {
		rules := lists[i]
		for j := len(rules) - 1; j >= 0; j-- {
			switch rules[j].Match(path, isDir) {
			case gitignore.Exclude:
				return true
			case gitignore.Include:
				return false
			}
		}
	}
	return false
}

func fromPatterns(patterns []gitignore.Pattern, origin string) []Rule {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, Rule{Origin: origin, pattern: p})
	}
	return rules
}
