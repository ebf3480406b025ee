// Package guard runs independent post-hoc checks on a completed attempt.
// Guards gate task success alongside verification: in enforce mode any
// guard failure forces the task to fail regardless of the verify result;
// in warn mode failures are logged but advisory.
package guard

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"orbiter/internal/envelope"
	"orbiter/internal/graph"
	"orbiter/internal/logging"
)

// Mode controls how guard failures are applied.
type Mode string

const (
	// ModeEnforce makes any guard failure fail the task.
	ModeEnforce Mode = "enforce"

	// ModeWarn logs guard failures without overriding verification.
	ModeWarn Mode = "warn"
)

// Guard names reported in results.
const (
	GuardEventPresence      = "event-presence"
	GuardSearchEvidence     = "search-evidence"
	GuardPlaceholderScan    = "placeholder-scan"
	GuardCapabilityEvidence = "capability-evidence"
)

// Result is one guard's verdict with a human-readable reason.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Report aggregates the four guard results for an attempt.
type Report struct {
	Results   []Result `json:"results"`
	AllPassed bool     `json:"allPassed"`
}

// Failures returns the failed results.
func (r Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// AddedLine is a line added by the attempt's change, with the file it
// belongs to. Removed and unchanged lines are never scanned.
type AddedLine struct {
	Path string
	Text string
}

// Checker evaluates the guards against a policy.
type Checker struct {
	policy           *Policy
	minSearchQueries int
	mode             Mode
	logger           *logging.Logger
	risk             []*regexp.Regexp
}

// NewChecker compiles the policy's risk patterns. Invalid patterns are an
// error: a silently skipped pattern would weaken the scan.
func NewChecker(policy *Policy, minSearchQueries int, mode Mode, logger *logging.Logger) (*Checker, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	risk := make([]*regexp.Regexp, 0, len(policy.RiskPatterns))
	for _, p := range policy.RiskPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile risk pattern %q: %w", p, err)
		}
		risk = append(risk, re)
	}

	return &Checker{
		policy:           policy,
		minSearchQueries: minSearchQueries,
		mode:             Mode(strings.ToLower(string(mode))),
		logger:           logger,
		risk:             risk,
	}, nil
}

// Mode returns the checker's gate mode.
func (c *Checker) Mode() Mode {
	return c.mode
}

// Run evaluates all four guards for one completed attempt. env is the
// confirmed task-log event (nil when none was confirmed); added is the
// attempt's added lines.
func (c *Checker) Run(task *graph.Task, env *envelope.Envelope, added []AddedLine) Report {
	results := []Result{
		c.checkEventPresence(env),
		c.checkSearchEvidence(env),
		c.checkPlaceholders(added),
		c.checkCapabilityEvidence(task, env),
	}

	report := Report{Results: results, AllPassed: true}
	for _, res := range results {
		if !res.Passed {
			report.AllPassed = false
			c.logger.Warn("guard failed", "guard", res.Name, "reason", res.Reason, "mode", c.mode)
		}
	}
	return report
}

func (c *Checker) checkEventPresence(env *envelope.Envelope) Result {
	if env == nil {
		return Result{Name: GuardEventPresence, Reason: "no confirmed task-log event for this attempt"}
	}
	return Result{Name: GuardEventPresence, Passed: true}
}

func (c *Checker) checkSearchEvidence(env *envelope.Envelope) Result {
	if c.minSearchQueries <= 0 {
		return Result{Name: GuardSearchEvidence, Passed: true}
	}
	count := 0
	if env != nil && env.Search != nil {
		count = len(env.Search.Queries)
	}
	if count < c.minSearchQueries {
		return Result{
			Name:   GuardSearchEvidence,
			Reason: fmt.Sprintf("%d investigation queries reported, need at least %d", count, c.minSearchQueries),
		}
	}
	return Result{Name: GuardSearchEvidence, Passed: true}
}

func (c *Checker) checkPlaceholders(added []AddedLine) Result {
	for _, line := range added {
		if c.excluded(line.Path) {
			continue
		}
		for _, re := range c.risk {
			if re.MatchString(line.Text) {
				return Result{
					Name:   GuardPlaceholderScan,
					Reason: fmt.Sprintf("risk pattern %q matched added line in %s", re.String(), line.Path),
				}
			}
		}
	}
	return Result{Name: GuardPlaceholderScan, Passed: true}
}

func (c *Checker) excluded(filePath string) bool {
	for _, pattern := range c.policy.ExcludePaths {
		if ok, _ := path.Match(pattern, filePath); ok {
			return true
		}
		if ok, _ := path.Match(pattern, filepath.Base(filePath)); ok {
			return true
		}
	}
	return false
}

func (c *Checker) checkCapabilityEvidence(task *graph.Task, env *envelope.Envelope) Result {
	if task == nil || task.Capability == "" {
		return Result{Name: GuardCapabilityEvidence, Passed: true}
	}

	allowed := c.policy.Capabilities[task.Capability]
	if len(allowed) == 0 {
		return Result{Name: GuardCapabilityEvidence, Passed: true}
	}

	if env != nil && env.Verify != nil {
		for _, passed := range env.Verify.Passed {
			for _, tool := range allowed {
				if strings.Contains(strings.ToLower(passed), strings.ToLower(tool)) {
					return Result{Name: GuardCapabilityEvidence, Passed: true}
				}
			}
		}
	}

	return Result{
		Name: GuardCapabilityEvidence,
		Reason: fmt.Sprintf("capability %q requires evidence from one of %v",
			task.Capability, allowed),
	}
}

// ParseAddedLines extracts added lines from a unified diff. Only lines
// introduced by the change are returned; removals and context lines are
// ignored.
func ParseAddedLines(diff string) []AddedLine {
	var out []AddedLine
	current := ""
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "):
			current = strings.TrimPrefix(line, "+++ ")
			current = strings.TrimPrefix(current, "b/")
		case strings.HasPrefix(line, "+"):
			if current == "/dev/null" {
				continue
			}
			out = append(out, AddedLine{Path: current, Text: strings.TrimPrefix(line, "+")})
		}
	}
	return out
}
