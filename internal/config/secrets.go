package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// VaultClient reads credential overrides from HashiCorp Vault. It is used
// at startup to replace file-borne database and Redis passwords with the
// Vault-managed values.
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates an authenticated Vault client
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	token := cfg.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
	}
	client.SetToken(token)

	log.Info().
		Str("address", cfg.Address).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized successfully")

	return &VaultClient{client: client, config: cfg}, nil
}

// GetSecret reads the secret map at the configured path
func (vc *VaultClient) GetSecret(ctx context.Context) (map[string]any, error) {
	secret, err := vc.client.Logical().ReadWithContext(ctx, vc.config.SecretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", vc.config.SecretPath)
	}
	// KV v2 nests the payload under "data"
	if data, ok := secret.Data["data"].(map[string]any); ok {
		return data, nil
	}
	return secret.Data, nil
}

// ApplySecrets overrides the sensitive config fields with Vault-managed
// values when present
func (c *Config) ApplySecrets(ctx context.Context) error {
	if !c.Vault.Enabled {
		return nil
	}
	vc, err := NewVaultClient(c.Vault)
	if err != nil {
		return err
	}
	data, err := vc.GetSecret(ctx)
	if err != nil {
		return err
	}

	if v, ok := data["database_password"].(string); ok && v != "" {
		c.Database.Password = v
	}
	if v, ok := data["redis_password"].(string); ok && v != "" {
		c.Redis.Password = v
	}
	log.Info().Msg("Applied Vault secret overrides")
	return nil
}
