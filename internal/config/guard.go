package config

import (
	"fmt"
	"regexp"
	"strings"
)

// secretKeyPattern matches configuration key names that must never reach
// the client-facing bundle.
var secretKeyPattern = regexp.MustCompile(`(?i)(SECRET|API_KEY|DATABASE|PASSWORD|PRIVATE)`)

// GuardClientKeys rejects any key destined for the client bundle whose
// name matches the secret pattern. Called at startup before the public
// runtime config is assembled, so a violation fails the build of the
// bundle rather than leaking.
func GuardClientKeys(keys []string) error {
	var bad []string
	for _, k := range keys {
		if secretKeyPattern.MatchString(k) {
			bad = append(bad, k)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("client bundle must not contain secret keys: %s", strings.Join(bad, ", "))
	}
	return nil
}

// PublicClientConfig returns the whitelisted key/value pairs safe to hand
// to the front-end. Every key passes GuardClientKeys.
func (c *Config) PublicClientConfig() (map[string]string, error) {
	public := map[string]string{
		"aggregator.affiliateId": c.Aggregator.AffiliateID,
		"auth.tokenIssuer":       c.Auth.TokenIssuer,
	}

	keys := make([]string, 0, len(public))
	for k := range public {
		keys = append(keys, k)
	}
	if err := GuardClientKeys(keys); err != nil {
		return nil, err
	}
	return public, nil
}
