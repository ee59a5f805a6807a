package billing

import "strings"

var placeholderSecrets = map[string]struct{}{
	"":                    {},
	"changeme":            {},
	"change_me":           {},
	"replace_me":          {},
	"replaceme":           {},
	"todo":                {},
	"secret":              {},
	"your_webhook_secret": {},
	"your_api_key":        {},
	"whsec_":              {},
	"whsec_...":           {},
	"sk_test_...":         {},
	"sk_live_...":         {},
}

// IsPlaceholderSecret reports whether a configured secret is empty or an obvious
// template value such as "whsec_xxx", "<webhook-secret>" or "changeme".
// Placeholders are treated as unconfigured so verification fails closed.
func IsPlaceholderSecret(secret string) bool {
	s := strings.ToLower(strings.TrimSpace(secret))
	if _, ok := placeholderSecrets[s]; ok {
		return true
	}
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		return true
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return true
	}

	for _, prefix := range []string{"whsec_", "sk_test_", "sk_live_", "rk_test_", "rk_live_"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			return rest == "" || strings.Trim(rest, "x.*") == ""
		}
	}
	return strings.Trim(s, "x.*") == ""
}
