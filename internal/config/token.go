package config

import (
	"fmt"
	"os"
	"strings"
)

// LoadToken returns the bearer token for the agent endpoint based on
// configuration priority: TokenFile (load from file) > Token (inline).
// An empty result means requests are sent unauthenticated.
// Returns an error if TokenFile is set but the file cannot be read.
func (c *Config) LoadToken() (string, error) {
	if c.Agent.TokenFile != "" {
		content, err := os.ReadFile(c.Agent.TokenFile)
		if err != nil {
			return "", fmt.Errorf("load token file %q: %w", c.Agent.TokenFile, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return strings.TrimSpace(c.Agent.Token), nil
}
