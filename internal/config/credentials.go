package config

import (
	"fmt"
	"os"
	"strings"
)

// Credentials is the API key/secret pair read from a two-line plain-text
// file (spec §6: "line 1 = API key, line 2 = API secret, trailing newline
// on line 1 tolerated").
type Credentials struct {
	APIKey    string
	APISecret string
}

func LoadCredentials(path string) (Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("config: read credentials file %s: %w", path, err)
	}
	lines := strings.SplitN(string(raw), "\n", 2)
	if len(lines) < 2 {
		return Credentials{}, fmt.Errorf("config: credentials file %s must have two lines", path)
	}
	return Credentials{
		APIKey:    strings.TrimRight(lines[0], "\r\n"),
		APISecret: strings.TrimRight(lines[1], "\r\n"),
	}, nil
}
