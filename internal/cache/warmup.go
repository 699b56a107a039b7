package cache

import (
	"fmt"
	"os"

	"github.com/chinmina/tenant-token-bridge/internal/token"
	"gopkg.in/yaml.v3"
)

type warmupFile struct {
	Tokens []warmupToken `yaml:"tokens"`
}

type warmupToken struct {
	Key             string `yaml:"key"`
	token.TokenInfo `yaml:",inline"`
}

// LoadWarmupFile reads pinned tokens from a YAML file for use with
// WarmupCache. The file has the form:
//
//	tokens:
//	  - key: app_access_token:cli_a1b2
//	    access_token: a-xxxx
//	    token_type: app_access_token
//	    owner_app_id: cli_a1b2
func LoadWarmupFile(path string) (map[string]token.TokenInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading warmup file: %w", err)
	}

	return parseWarmup(data)
}

func parseWarmup(data []byte) (map[string]token.TokenInfo, error) {
	var f warmupFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing warmup file: %w", err)
	}

	tokens := make(map[string]token.TokenInfo, len(f.Tokens))
	for i, t := range f.Tokens {
		if t.Key == "" {
			return nil, fmt.Errorf("warmup token %d: key is required", i)
		}
		if t.AccessToken == "" {
			return nil, fmt.Errorf("warmup token %q: access_token is required", t.Key)
		}
		if _, dup := tokens[t.Key]; dup {
			return nil, fmt.Errorf("warmup token %q: duplicate key", t.Key)
		}
		tokens[t.Key] = t.TokenInfo
	}

	return tokens, nil
}
