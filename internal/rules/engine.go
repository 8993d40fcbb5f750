// Package rules evaluates an ordered keyword rule set against message text.
// The loaded set is swapped atomically so concurrent evaluators never observe
// a partially updated list.
package rules

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Rule maps a keyword set to a reply. Position in the configured list is the
// priority. Immutable after load.
type Rule struct {
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadError marks a malformed rule definition. It is fatal to the load
// operation only; an engine running on a previous set keeps it.
type LoadError struct {
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load rules: %s", e.Reason)
}

type Engine struct {
	rules     atomic.Pointer[[]Rule]
	matchCase bool
}

// NewEngine creates an engine with an empty rule set. matchCase selects
// case-sensitive keyword containment (the documented behavior); disable it
// to fold case on both sides.
func NewEngine(matchCase bool) *Engine {
	e := &Engine{matchCase: matchCase}
	empty := []Rule{}
	e.rules.Store(&empty)
	return e
}

// LoadFile parses the YAML rule file and swaps it in atomically. Any
// malformed rule rejects the whole file and leaves the current set in place.
func (e *Engine) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	return e.Load(data)
}

func (e *Engine) Load(data []byte) error {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return &LoadError{Reason: fmt.Sprintf("parse yaml: %v", err)}
	}
	if f.Rules == nil {
		return &LoadError{Reason: "missing 'rules' field"}
	}

	for i, r := range f.Rules {
		if len(r.Keywords) == 0 {
			return &LoadError{Reason: fmt.Sprintf("rule %d has no keywords", i)}
		}
		if r.Reply == "" {
			return &LoadError{Reason: fmt.Sprintf("rule %d has an empty reply", i)}
		}
		for _, kw := range r.Keywords {
			if strings.TrimSpace(kw) == "" {
				return &LoadError{Reason: fmt.Sprintf("rule %d has a blank keyword", i)}
			}
		}
	}

	loaded := make([]Rule, len(f.Rules))
	copy(loaded, f.Rules)
	e.rules.Store(&loaded)
	return nil
}

// Evaluate tries rules strictly in configured order; the first rule with any
// keyword contained in text wins. The second return is false when no rule
// matches. Evaluation never fails.
func (e *Engine) Evaluate(text string) (string, bool) {
	if text == "" {
		return "", false
	}

	haystack := text
	if !e.matchCase {
		haystack = strings.ToLower(text)
	}

	for _, rule := range *e.rules.Load() {
		for _, kw := range rule.Keywords {
			if !e.matchCase {
				kw = strings.ToLower(kw)
			}
			if strings.Contains(haystack, kw) {
				return rule.Reply, true
			}
		}
	}
	return "", false
}

// Count returns the number of loaded rules.
func (e *Engine) Count() int {
	return len(*e.rules.Load())
}
