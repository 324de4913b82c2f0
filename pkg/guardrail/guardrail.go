// Package guardrail classifies chat input and output as safe or unsafe and
// sanitizes untrusted document text before it becomes retrieval context.
package guardrail

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const DefaultMaxMessageLen = 10000

// injectionPatterns flag prompt-injection and jailbreak attempts. The verdict
// never echoes which pattern matched; that would help adversarial refinement.
var injectionPatterns = []string{
	`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`,
	`(?i)you\s+are\s+now\s+(a|an|in)\s+`,
	`(?i)system\s*prompt`,
	`(?i)reveal\s+(your|the)\s+(instructions|prompt|rules)`,
	`(?i)pretend\s+(you|to\s+be)`,
	`(?i)act\s+as\s+(if|a)`,
	`(?i)forget\s+(everything|all|your)`,
	`(?i)override\s+(your|the|all)`,
	`(?i)jailbreak`,
	`(?i)DAN\s+mode`,
}

// leakPatterns catch the system instructions surfacing verbatim in a response.
var leakPatterns = []string{
	`(?i)CRITICAL RULES:`,
	`(?i)ONLY answer based on`,
	`(?i)you are a helpful assistant that`,
}

const (
	deflectionReason  = "I can only help with questions related to your knowledge base. Could you rephrase your question?"
	tooLongReason     = "Your message is too long. Please keep it under 10,000 characters."
	emptyReason       = "Please enter a message."
	leakReason        = "Response filtered for safety."
	leakReplacement   = "I'm here to help with questions about your knowledge base. What would you like to know?"
)

var (
	bracketDirectiveRe = regexp.MustCompile(`(?is)\[SYSTEM\].*?\[/SYSTEM\]`)
	htmlDirectiveRe    = regexp.MustCompile(`(?is)<!-- ?(ignore|forget|override|system).*?-->`)
	zeroWidthRe        = regexp.MustCompile("[​‌‍\uFEFF]")
)

// Verdict is the result of an input check.
type Verdict struct {
	Safe   bool
	Reason string
}

// OutputVerdict carries a safe replacement when a response is filtered.
type OutputVerdict struct {
	Safe     bool
	Reason   string
	Filtered string
}

type Config struct {
	// MaxMessageLen defaults to DefaultMaxMessageLen when zero.
	MaxMessageLen int
	// ExtraPatterns are additional injection regexes, e.g. from a rules file.
	ExtraPatterns []string
	// ExtraLeakPatterns are additional output leak regexes.
	ExtraLeakPatterns []string
}

type Validator struct {
	maxLen    int
	injection []*regexp.Regexp
	leaks     []*regexp.Regexp
}

func NewValidator(cfg Config) (*Validator, error) {
	maxLen := cfg.MaxMessageLen
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	v := &Validator{maxLen: maxLen}
	for _, pat := range append(append([]string{}, injectionPatterns...), cfg.ExtraPatterns...) {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, errors.Wrapf(err, "guardrail: bad injection pattern %q", pat)
		}
		v.injection = append(v.injection, re)
	}
	for _, pat := range append(append([]string{}, leakPatterns...), cfg.ExtraLeakPatterns...) {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, errors.Wrapf(err, "guardrail: bad leak pattern %q", pat)
		}
		v.leaks = append(v.leaks, re)
	}
	return v, nil
}

// ValidateInput checks a user message before any processing. Checks run in
// order and short-circuit on the first failure.
func (v *Validator) ValidateInput(message string) Verdict {
	for _, re := range v.injection {
		if re.MatchString(message) {
			return Verdict{Safe: false, Reason: deflectionReason}
		}
	}
	if len(message) > v.maxLen {
		return Verdict{Safe: false, Reason: tooLongReason}
	}
	if strings.TrimSpace(message) == "" {
		return Verdict{Safe: false, Reason: emptyReason}
	}
	return Verdict{Safe: true}
}

// ValidateOutput scans a completed response for system-instruction leaks.
// It is only actionable on a fully buffered response: tokens already streamed
// to the caller cannot be recalled, so for streamed answers this guards what
// gets persisted, not what was delivered.
func (v *Validator) ValidateOutput(response string) OutputVerdict {
	for _, re := range v.leaks {
		if re.MatchString(response) {
			return OutputVerdict{Safe: false, Reason: leakReason, Filtered: leakReplacement}
		}
	}
	return OutputVerdict{Safe: true}
}

// SanitizeDocumentText strips hidden directives from ingested document text:
// bracketed pseudo-instruction blocks, HTML-comment directives, and zero-width
// characters that can hide instructions from human review.
func (v *Validator) SanitizeDocumentText(text string) string {
	text = bracketDirectiveRe.ReplaceAllString(text, "")
	text = htmlDirectiveRe.ReplaceAllString(text, "")
	return zeroWidthRe.ReplaceAllString(text, "")
}
