package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

// TokensFile is the on-disk layout of the tokens file.
type TokensFile struct {
	Tokens []model.APIToken `yaml:"tokens"`
}

// LoadTokensFile reads token entries from a YAML file.
func LoadTokensFile(path string) ([]model.APIToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read tokens file: %w", err)
	}
	var f TokensFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("auth: parse tokens file: %w", err)
	}
	return f.Tokens, nil
}

// SaveTokensFile writes token entries with owner-only permissions.
func SaveTokensFile(path string, tokens []model.APIToken) error {
	data, err := yaml.Marshal(TokensFile{Tokens: tokens})
	if err != nil {
		return fmt.Errorf("auth: encode tokens file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("auth: write tokens file: %w", err)
	}
	return nil
}

// Bootstrap loads the tokens file, creating it with one admin token when it
// does not exist yet. The raw admin token is returned only on creation.
func Bootstrap(path string) (tokens []model.APIToken, adminToken string, err error) {
	tokens, err = LoadTokensFile(path)
	if err == nil {
		return tokens, "", nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, "", err
	}

	tok, raw, err := NewAPIToken("admin", model.RoleAdmin)
	if err != nil {
		return nil, "", err
	}
	tokens = []model.APIToken{tok}
	if err := SaveTokensFile(path, tokens); err != nil {
		return nil, "", err
	}
	return tokens, raw, nil
}
