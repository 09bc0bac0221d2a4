package observability

import (
	"regexp"
	"strings"
)

const credentialRedacted = "[CREDENTIAL_REDACTED]"

type credentialPattern struct {
	kind string
	re   *regexp.Regexp
}

// credentialPatterns detects credential formats that must never appear in
// telemetry, logs, or agent outputs.
var credentialPatterns = []credentialPattern{
	// sk_, pk_, rk_, xox*_, ghp/gho/ghu/ghs/ghr_, pat_
	{kind: "api_key", re: regexp.MustCompile(`(?i)\b(?:sk|pk|rk|xox[baprs]|gh[pousr]|pat)_[a-z0-9_-]{8,}\b`)},
	// Model provider keys: sk-..., sk-proj-..., sk-ant-...
	{kind: "model_api_key", re: regexp.MustCompile(`\bsk-(?:proj-|ant-[a-z0-9]+-)?[A-Za-z0-9_-]{16,}`)},
	{kind: "aws_access_key", re: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{kind: "jwt", re: regexp.MustCompile(`(?i)eyj[a-z0-9_-]{8,}\.[a-z0-9_-]{8,}\.[a-z0-9_-]{8,}`)},
	{kind: "bearer", re: regexp.MustCompile(`(?i)\bBearer\s+[a-z0-9_.\-/+=]{8,}\b`)},
	// password=..., secret=..., token=...
	{kind: "assignment", re: regexp.MustCompile(`(?i)\b(?:password|secret|token)\s*=\s*\S{4,}`)},
}

// ContainsCredential reports whether s matches any known credential pattern.
// Strings shorter than 8 bytes cannot match.
func ContainsCredential(s string) bool {
	if len(s) < 8 {
		return false
	}
	for _, p := range credentialPatterns {
		if p.re.MatchString(s) {
			return true
		}
	}
	return false
}

// CredentialKinds returns the kinds of credential patterns found in s, in
// pattern order.
func CredentialKinds(s string) []string {
	if len(s) < 8 {
		return nil
	}
	var kinds []string
	for _, p := range credentialPatterns {
		if p.re.MatchString(s) {
			kinds = append(kinds, p.kind)
		}
	}
	return kinds
}

// ScrubCredentials replaces all detected credential patterns in s with
// [CREDENTIAL_REDACTED]. If no patterns match, s is returned unchanged.
func ScrubCredentials(s string) string {
	if len(s) < 8 {
		return s
	}
	result := s
	changed := false
	for _, p := range credentialPatterns {
		if p.re.MatchString(result) {
			result = p.re.ReplaceAllString(result, credentialRedacted)
			changed = true
		}
	}
	if !changed {
		return s
	}
	return strings.TrimSpace(result)
}
