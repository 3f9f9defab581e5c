package observability

import "regexp"

const redactedValue = "[redacted]"

// redactRule rewrites one secret shape that captured agent payloads are
// known to carry. Span input/output bodies arrive verbatim from agent
// SDKs, so provider keys and auth headers show up inside JSON fragments
// as well as in bare prose quoted by error messages.
type redactRule struct {
	pattern *regexp.Regexp
	replace string
}

var redactRules = []redactRule{
	// Credential fields inside captured JSON payloads. The key is kept
	// so the payload stays readable: {"api_key":"sk-..."} and friends.
	{
		pattern: regexp.MustCompile(`(?i)("(?:api[_-]?key|authorization|access[_-]?token|refresh[_-]?token|client[_-]?secret|password)"\s*:\s*")[^"]+(")`),
		replace: `${1}` + redactedValue + `${2}`,
	},
	// Authorization header values, with or without the Bearer scheme.
	{
		pattern: regexp.MustCompile(`(?i)\b(authorization:\s*(?:bearer\s+)?|bearer\s+)[a-z0-9._~+/=-]{8,}`),
		replace: `${1}` + redactedValue,
	},
	// Bare provider API keys and session tokens (sk-, sk-proj-, sess-).
	{
		pattern: regexp.MustCompile(`\b(?:sk|sess)-[A-Za-z0-9_-]{16,}\b`),
		replace: redactedValue,
	},
	// JWTs: three dot-separated base64url segments, header always eyJ.
	{
		pattern: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{6,}\.[A-Za-z0-9_-]{6,}\.[A-Za-z0-9_-]{6,}\b`),
		replace: redactedValue,
	},
}

// HasSecret reports whether s carries something a redact rule would
// rewrite. The shortest matchable secret is 13 bytes, so shorter
// strings skip the regex scan.
func HasSecret(s string) bool {
	if len(s) < 13 {
		return false
	}
	for _, rule := range redactRules {
		if rule.pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// RedactSecrets rewrites every secret in s. Strings with no secret come
// back unchanged without allocating.
func RedactSecrets(s string) string {
	if !HasSecret(s) {
		return s
	}
	for _, rule := range redactRules {
		s = rule.pattern.ReplaceAllString(s, rule.replace)
	}
	return s
}
