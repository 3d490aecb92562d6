package main

import (
	"context"
	"expvar"
	"fmt"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	echoportal "github.com/chitterchatter/portal/apps/portal/echo"
	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/user"
	logsvc "github.com/chitterchatter/portal/services/logger"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	zlog, err := logsvc.NewZap(conf.LogLevel, conf.Debug)
	if err != nil {
		log.Fatalf("setting up logger: %v", err)
	}
	logger := logsvc.NewRollbarLogger(zlog.Named("portal"), conf)
	logger.Enable(!conf.Debug)
	defer logger.Sync()

	var rdb *redis.Client
	if conf.Server.Store == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Address,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		if err = rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
		}
		defer func() {
			if err = rdb.Close(); err != nil {
				logger.Error("closing redis client", err)
			}
		}()
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Portal initializing : version %q", conf.Build))
	defer logger.Info("Portal stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("store").Set(conf.Server.Store)

	// =========================================================================
	// Start Portal Service

	server := echoportal.NewServer(echoportal.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		Redis:      rdb,
	})

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}
