package services

import (
	"fmt"
	"regexp"
	"strings"
)

// SafetyViolationPrefix starts the stderr of every rejected execution
const SafetyViolationPrefix = "AI Safety Violation"

// SafetyVerdict is the outcome of a safety check
type SafetyVerdict struct {
	Allowed bool   `json:"allowed"`
	Rule    string `json:"rule,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type denyRule struct {
	name   string
	reason string
	match  func(text string) bool
}

// SafetyGate is a shallow deny-list check run before any container is
// created. The container is the security boundary; this only stops the
// known-destructive commands early.
type SafetyGate struct {
	rules []denyRule
}

var (
	rmRootPattern = regexp.MustCompile(`(?:^|[^\w.-])rm\s+((?:-{1,2}[\w-]+\s+)+)(?:--\s+)?(/\*?|/(?:bin|boot|dev|etc|home|lib|lib64|opt|proc|root|sbin|srv|sys|usr|var)/?\*?|~/?\*?|\$HOME/?\*?)(?:[\s;&|)"'` + "`" + `]|$)`)

	builtinRules = []struct {
		name    string
		reason  string
		pattern string
	}{
		{"python-rmtree-root", "recursive delete of a root path", `shutil\.rmtree\(\s*['"](?:/|~|/(?:bin|boot|etc|home|usr|var))/?['"]`},
		{"node-rm-root", "recursive delete of a root path", `\b(?:rmSync|rmdirSync|rm|rmdir)\(\s*['"` + "`" + `]/['"` + "`" + `]\s*,\s*\{[^}]*recursive\s*:\s*true`},
		{"mkfs", "filesystem format", `(?:^|[^\w.-])mkfs(?:\.\w+)?\s`},
		{"disk-write", "raw write to a block device", `\bdd\b[^\n]*\bof=/dev/(?:sd|hd|vd|xvd|nvme|mmcblk)`},
		{"disk-redirect", "raw write to a block device", `>\s*/dev/(?:sd|hd|vd|xvd|nvme|mmcblk)\w*`},
		{"power", "shutdown or reboot", `(?m)(?:^|[;&|(!"'` + "`" + `]\s*|\bsudo\s+|\bexec\s+)(?:shutdown|reboot|halt|poweroff)\b`},
		{"init-runlevel", "shutdown or reboot", `(?m)(?:^|[;&|"'` + "`" + `]\s*|\bsudo\s+)(?:init|telinit)\s+[06]\b`},
		{"systemctl-power", "shutdown or reboot", `\bsystemctl\s+(?:poweroff|reboot|halt|kexec)\b`},
		{"fork-bomb", "fork bomb", `:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`},
		{"chmod-root", "recursive permission change of the root path", `\bchmod\s+(?:-\w*R\w*\s+)+[0-7]{3,4}\s+/(?:\s|$)`},
	}
)

// NewSafetyGate builds the gate from the built-in deny-list plus any extra
// regular expressions from configuration.
func NewSafetyGate(extraPatterns []string) (*SafetyGate, error) {
	g := &SafetyGate{}
	g.rules = append(g.rules, denyRule{
		name:   "rm-root",
		reason: "recursive delete of a root path",
		match:  matchRecursiveRootDelete,
	})
	for _, r := range builtinRules {
		re := regexp.MustCompile(r.pattern)
		g.rules = append(g.rules, denyRule{name: r.name, reason: r.reason, match: re.MatchString})
	}
	for i, p := range extraPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid deny pattern %q: %w", p, err)
		}
		g.rules = append(g.rules, denyRule{
			name:   fmt.Sprintf("custom-%d", i),
			reason: "matches configured deny pattern",
			match:  re.MatchString,
		})
	}
	return g, nil
}

// Check inspects the text against the deny-list.
func (g *SafetyGate) Check(text string) SafetyVerdict {
	for _, r := range g.rules {
		if r.match(text) {
			return SafetyVerdict{Allowed: false, Rule: r.name, Reason: r.reason}
		}
	}
	return SafetyVerdict{Allowed: true}
}

// ViolationMessage renders the stderr text of a rejected execution.
func (v SafetyVerdict) ViolationMessage() string {
	return fmt.Sprintf("%s: command blocked (%s)", SafetyViolationPrefix, v.Reason)
}

func matchRecursiveRootDelete(text string) bool {
	for _, m := range rmRootPattern.FindAllStringSubmatch(text, -1) {
		if hasRecursiveFlag(m[1]) {
			return true
		}
	}
	return false
}

func hasRecursiveFlag(flags string) bool {
	for _, f := range strings.Fields(flags) {
		if f == "--recursive" {
			return true
		}
		if strings.HasPrefix(f, "--") {
			continue
		}
		if strings.ContainsAny(f, "rR") {
			return true
		}
	}
	return false
}
