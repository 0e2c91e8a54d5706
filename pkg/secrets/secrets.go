package secrets

import (
	"context"
	"errors"

	"persona-ritual/backend/pkg/config"
	"persona-ritual/backend/pkg/logger"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// Keys resolved into the configuration at startup
const (
	KeyArkAPIKey    = "ARK_API_KEY"
	KeyArkAccessKey = "ARK_ACCESS_KEY"
	KeyArkSecretKey = "ARK_SECRET_KEY"
	KeyJWTSecret    = "JWT_SECRET"
	KeyDBPassword   = "DB_PASSWORD"
	KeyRedisPass    = "REDIS_PASSWORD"
)

// Resolve overwrites the credential fields of cfg with values held by the manager.
// Fields the manager does not know keep their environment value.
func Resolve(ctx context.Context, m Manager, cfg *config.Config, log *logger.Logger) error {
	targets := map[string]*string{
		KeyArkAPIKey:    &cfg.AI.APIKey,
		KeyArkAccessKey: &cfg.AI.AccessKey,
		KeyArkSecretKey: &cfg.AI.SecretKey,
		KeyJWTSecret:    &cfg.JWT.Secret,
		KeyDBPassword:   &cfg.Database.Password,
		KeyRedisPass:    &cfg.Realtime.RedisPassword,
	}

	for key, field := range targets {
		value, err := m.GetSecret(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*field = value
		log.Debug("Secret resolved", "key", key)
	}
	return nil
}
