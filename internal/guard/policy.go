package guard

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy configures the placeholder scan and capability evidence rules.
// It is loaded from a YAML file so teams can tune risk patterns without
// rebuilding.
type Policy struct {
	// RiskPatterns are regular expressions matched against added lines.
	RiskPatterns []string `yaml:"risk_patterns"`

	// ExcludePaths are glob patterns for files the scan ignores.
	ExcludePaths []string `yaml:"exclude_paths"`

	// Capabilities maps a task capability (e.g. "ui") to the verification
	// tools accepted as evidence for it.
	Capabilities map[string][]string `yaml:"capabilities"`
}

// DefaultPolicy returns the built-in policy used when no file is given.
func DefaultPolicy() *Policy {
	return &Policy{
		RiskPatterns: []string{
			`(?i)\bTODO\b`,
			`(?i)\bFIXME\b`,
			`(?i)\bXXX\b`,
			`(?i)not (?:yet )?implemented`,
			`(?i)\bplaceholder\b`,
			`(?i)\bstub(?:bed)?\b`,
			`panic\("unimplemented`,
		},
		ExcludePaths: []string{
			"*.md",
			"docs/*",
			"*_test.go",
		},
		Capabilities: map[string][]string{
			"ui": {"screenshot", "browser", "playwright"},
		},
	}
}

// LoadPolicy reads a Policy from a YAML file. An empty path returns the
// default policy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guard policy: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse guard policy: %w", err)
	}

	// Missing sections fall back to defaults rather than disabling checks.
	def := DefaultPolicy()
	if len(p.RiskPatterns) == 0 {
		p.RiskPatterns = def.RiskPatterns
	}
	if p.Capabilities == nil {
		p.Capabilities = def.Capabilities
	}
	return &p, nil
}
