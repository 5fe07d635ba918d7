package security

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Rule is one denylist entry: a named pattern matched against the rendered
// command line before anything is spawned.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// CommandRules is the exec denylist. Matching happens on the raw command
// line, which is inherently incomplete (aliases and encoding slip past it);
// it is a deterrent against the obviously destructive invocations, not a
// security boundary.
type CommandRules struct {
	rules []Rule
}

// builtinRules ship with the gateway and are always active.
var builtinRules = []struct {
	name    string
	pattern string
}{
	{"recursive-force-delete", `(?i)\brm\b[^|;&]*\s-{1,2}[a-z]*(r[a-z]*f|f[a-z]*r)`},
	{"privilege-escalation", `(?i)(^|\s)(sudo|doas|su)(\s|$)`},
	{"filesystem-format", `(?i)(^|\s)mkfs(\.[a-z0-9]+)?\b`},
	{"raw-device-write", `(?i)\bdd\b.*\bof=/dev/`},
	{"device-redirect", `>\s*/dev/(sd|nvme|hd|mmcblk|disk)`},
	{"fork-bomb", `:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;`},
	{"power-control", `(?i)(^|\s)(shutdown|reboot|halt|poweroff)(\s|$)`},
}

// DefaultCommandRules returns the built-in denylist.
func DefaultCommandRules() *CommandRules {
	rules := make([]Rule, 0, len(builtinRules))
	for _, r := range builtinRules {
		rules = append(rules, Rule{Name: r.name, Pattern: regexp.MustCompile(r.pattern)})
	}
	return &CommandRules{rules: rules}
}

// rulesFile is the TOML shape of an extra-rules file:
//
//	[[rule]]
//	name    = "package-remove"
//	pattern = '(?i)\b(apt|yum|dnf)\s+(remove|purge)\b'
type rulesFile struct {
	Rules []ruleDef `toml:"rule"`
}

type ruleDef struct {
	Name    string `toml:"name"`
	Pattern string `toml:"pattern"`
}

// LoadCommandRules returns the built-in denylist extended with rules from
// the given TOML file. An empty path returns just the built-ins.
func LoadCommandRules(path string) (*CommandRules, error) {
	rules := DefaultCommandRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file rulesFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	for _, def := range file.Rules {
		if def.Name == "" || def.Pattern == "" {
			return nil, fmt.Errorf("rules file: rule needs both name and pattern")
		}
		re, err := regexp.Compile(def.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rules file: rule %q: %w", def.Name, err)
		}
		rules.rules = append(rules.rules, Rule{Name: def.Name, Pattern: re})
	}

	return rules, nil
}

// Check matches the command line against every rule and returns the name
// of the first match, or "" when nothing matches.
func (c *CommandRules) Check(cmdline string) string {
	line := strings.TrimSpace(cmdline)
	for _, rule := range c.rules {
		if rule.Pattern.MatchString(line) {
			return rule.Name
		}
	}
	return ""
}

// Len reports the number of active rules.
func (c *CommandRules) Len() int {
	return len(c.rules)
}
