package redact

// Rule matches one kind of credential. Keywords, when set, gate the rule:
// it only runs on text containing at least one of them, case-insensitively.
type Rule struct {
	ID       string
	Pattern  string
	Keywords []string
}

// DefaultRules covers the provider keys and generic assignments that show
// up in generated code.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "aws-access-key-id", Pattern: `(A3T[A-Z0-9]|AKIA|ASIA|AGPA|AROA)[A-Z0-9]{16}`},
		{
			ID:       "aws-secret-access-key",
			Pattern:  `(?i)(?:aws_secret_access_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
			Keywords: []string{"secret_access_key"},
		},
		{ID: "anthropic-api-key", Pattern: `sk-ant-[A-Za-z0-9_\-]{32,}`},
		{ID: "openai-api-key", Pattern: `sk-proj-[A-Za-z0-9_\-]{40,}|sk-[A-Za-z0-9]{40,}`},
		{ID: "github-token", Pattern: `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Pattern: `glpat-[A-Za-z0-9\-]{20,}`},
		{ID: "slack-token", Pattern: `xox[baprs]-[A-Za-z0-9\-]{10,}`},
		{ID: "stripe-key", Pattern: `(?:sk|rk)_live_[A-Za-z0-9]{24,}`},
		{ID: "google-api-key", Pattern: `AIza[A-Za-z0-9_\-]{35}`},
		{ID: "jwt", Pattern: `eyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+`},
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`},
		{
			ID:       "connection-string",
			Pattern:  `(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqps?)://[^:\s/]+:[^@\s]+@[^\s"'` + "`" + `]+`,
			Keywords: []string{"://"},
		},
		{
			ID:       "generic-api-key",
			Pattern:  `(?i)(?:api[_-]?key|apikey|access[_-]?token|auth[_-]?token)\s*[:=]+\s*['"][A-Za-z0-9_\-]{16,}['"]`,
			Keywords: []string{"key", "token"},
		},
		{
			ID:       "generic-password",
			Pattern:  `(?i)(?:password|passwd|secret)\s*[:=]+\s*['"][^'"\s]{8,}['"]`,
			Keywords: []string{"password", "passwd", "secret"},
		},
	}
}
