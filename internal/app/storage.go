package app

import (
	"context"
	"fmt"

	"token-relay/internal/common/logging"
	"token-relay/internal/config"
	"token-relay/internal/credentials"
	"token-relay/internal/crypto"
)

func (app *App) initializeEncryption(context.Context) error {
	var (
		env *crypto.Envelope
		err error
	)
	if app.Config.EncryptionKey != "" {
		env, err = crypto.NewEnvelopeFromBase64(app.Config.EncryptionKey)
	} else {
		app.Logger.Info("Encryption: deriving key from passphrase")
		env, err = crypto.NewEnvelopeFromPassphrase(app.Config.EncryptionPassphrase)
	}
	if err != nil {
		return err
	}

	sealer, err := credentials.NewSealer(env)
	if err != nil {
		return err
	}

	app.Envelope = env
	app.Sealer = sealer
	return nil
}

func (app *App) initializeStorage(ctx context.Context) error {
	var (
		store credentials.Store
		err   error
	)

	switch app.Config.StoreType {
	case config.StoreMemory:
		app.Logger.Info("Credential store: memory")
		store, err = credentials.NewMemoryStore(app.Sealer)
	case config.StoreRedis:
		app.Logger.Info("Credential store: Redis", logging.String("address", app.Config.RedisAddress))
		store, err = credentials.NewRedisStore(app.RedisClient, app.Sealer, "")
		if err == nil {
			app.storeOwnsRedis = true
		}
	case config.StorePostgres:
		app.Logger.Info("Credential store: PostgreSQL",
			logging.String("host", app.Config.PostgresHost),
			logging.String("port", app.Config.PostgresPort),
			logging.String("database", app.Config.PostgresDB),
		)
		store, err = credentials.OpenPostgres(ctx, app.Config.PostgresDSN(), app.Sealer)
	default:
		app.Logger.Info("Credential store: SQLite", logging.String("path", app.Config.DatabasePath))
		store, err = credentials.OpenSQLite(app.Config.DatabasePath, app.Sealer)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	app.Store = store
	return nil
}
