package delegation

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/basket/go-claw/internal/safety"
)

// ErrPromptInjection is returned by Sanitize when a description contains
// a role-manipulation or prompt-leaking attempt the receiving agent
// should never see forwarded as a legitimate task.
var ErrPromptInjection = fmt.Errorf("delegation: description blocked by injection check")

// Sanitizer strips or tokenises PII from a task description before
// delegation (spec §4.4 step 2, §9 "freeze one canonical rule set"). The
// PII pattern table is this package's own — email, phone, SSN, credit
// card, API-key prefixes, high-entropy tokens — each matched in turn with
// no backtracking-prone alternation (ReDoS protection per spec §4.4 step
// 2's "bounded execution budget"). Beyond PII, a description is also run
// through the teacher's internal/safety checks: LeakDetector catches any
// secret-shaped text a requester pasted in (API keys, bearer tokens,
// private key blocks) and redacts it, and Sanitizer.Check blocks a
// description that is itself a prompt-injection attempt against whichever
// agent receives it.
type Sanitizer struct {
	leaks    *safety.LeakDetector
	injected *safety.Sanitizer
}

// NewSanitizer constructs a Sanitizer.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		leaks:    safety.NewLeakDetector(),
		injected: safety.NewSanitizer(),
	}
}

type piiPattern struct {
	re    *regexp.Regexp
	token string
}

// piiPatterns is the canonical rule set spec §9 calls for: email, phone,
// SSN, credit card (Luhn-checked separately), API-key prefixes, and
// high-entropy tokens. Order matters: more specific patterns (API key
// prefixes) run before the generic high-entropy catch-all so a `sk-...`
// token is tagged <API_KEY> rather than <TOKEN>.
var piiPatterns = []piiPattern{
	{re: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), token: "<EMAIL>"},
	{re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), token: "<SSN>"},
	{re: regexp.MustCompile(`\bsk-[A-Za-z0-9]{8,}\b`), token: "<API_KEY>"},
	{re: regexp.MustCompile(`\bghp_[A-Za-z0-9]{8,}\b`), token: "<API_KEY>"},
	// Credit card numbers run before phone numbers: a 13-19 digit run
	// grouped by spaces/dashes is classified by Luhn check, not left for
	// the phone pattern to partially consume.
	{re: regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`), token: creditCardOrTokenMarker},
	{re: regexp.MustCompile(`\+?\d{1,3}[\s.\-]?\(?\d{2,4}\)?[\s.\-]?\d{3,4}[\s.\-]?\d{3,4}\b`), token: "<PHONE>"},
	{re: regexp.MustCompile(`\b[A-Fa-f0-9]{32,}\b`), token: "<TOKEN>"},
	{re: regexp.MustCompile(`\b[A-Za-z0-9+/]{32,}={0,2}\b`), token: "<TOKEN>"},
}

// creditCardOrTokenMarker is a sentinel the credit-card pattern's
// replacement dispatches on: a run of digits is only a credit-card number
// if it also passes a Luhn check, otherwise it's left alone for a later
// pattern (or no pattern at all) to classify.
const creditCardOrTokenMarker = "\x00cc\x00"

// Sanitize replaces every PII match in input with its canonical token,
// redacts anything that looks like a leaked secret, and rejects the
// description outright if it reads as a prompt-injection attempt.
// Idempotent on the PII/leak passes: sanitising already-sanitised text is
// a no-op, since the replacement tokens never themselves match a PII or
// leak pattern (spec §9 L3).
func (s *Sanitizer) Sanitize(input string) (string, error) {
	if check := s.injected.Check(input); check.Action == safety.ActionBlock {
		return "", fmt.Errorf("%w: %s", ErrPromptInjection, check.Reason)
	}

	out := input
	for _, p := range piiPatterns {
		out = p.re.ReplaceAllStringFunc(out, func(match string) string {
			if p.token == creditCardOrTokenMarker {
				if looksLikeCreditCard(match) {
					return "<CC>"
				}
				return match
			}
			return p.token
		})
	}

	out, _ = s.leaks.Redact(out)
	return out, nil
}

// looksLikeCreditCard reports whether digits (ignoring spaces/dashes) form
// a 13-19 digit run that passes the Luhn check, per spec §9's "credit card
// numbers with Luhn check".
func looksLikeCreditCard(match string) bool {
	digits := make([]byte, 0, len(match))
	for i := 0; i < len(match); i++ {
		c := match[i]
		if c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	return luhnValid(digits)
}

func luhnValid(digits []byte) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d, err := strconv.Atoi(string(digits[i]))
		if err != nil {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
