package app

import (
	"context"

	"token-relay/internal/common/logging"
	"token-relay/internal/locks"
	"token-relay/internal/redis"
)

func (app *App) initializeRedis(context.Context) error {
	if !app.Config.UsesRedis() {
		return nil
	}

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDBNumber(),
		PoolSize: app.Config.RedisPoolSizeNumber(),
	})
	if err != nil {
		return err
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))
	return nil
}

func (app *App) initializeLocker(context.Context) error {
	if !app.Config.RedisLocks {
		return nil
	}

	locker, err := locks.NewRedsyncLocker(app.RedisClient, app.Config.LockExpiryDuration(), app.Logger)
	if err != nil {
		return err
	}

	app.Locker = locker
	app.Logger.Info("Distributed Locks: Enabled", logging.Any("expiry", app.Config.LockExpiryDuration()))
	return nil
}
