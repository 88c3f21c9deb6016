package cli

import (
	"fmt"
	"strings"

	"docparse-tracker/internal/config"
	"docparse-tracker/internal/models"
	"docparse-tracker/internal/signature"
)

// parsePairs turns k=v arguments into a parameter map.
func parsePairs(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		params[k] = v
	}
	return params, nil
}

// loadRegistry builds a credential registry from the environment. A non-empty
// secret overrides whatever is configured for appID.
var loadRegistry = func(appID, secret string) (*signature.Registry, string, error) {
	cfg := config.Load()
	if appID == "" {
		appID = cfg.AppID
	}
	creds, err := cfg.Credentials()
	if err != nil {
		return nil, "", err
	}
	reg := signature.NewRegistry(creds...)
	if secret != "" {
		reg.Add(models.Credential{ID: appID, Secret: secret})
	}
	return reg, appID, nil
}
