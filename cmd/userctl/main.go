package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mkrupp/userstore/internal/infra/config"
	"github.com/mkrupp/userstore/internal/infra/logging"
	"github.com/mkrupp/userstore/internal/infra/metrics"
	"github.com/mkrupp/userstore/internal/infra/reload"
	"github.com/mkrupp/userstore/internal/infra/transport/http"
	"github.com/mkrupp/userstore/internal/repo/user"
	"github.com/mkrupp/userstore/internal/svc/authcache"
)

const (
	appName = "userstore"
	svcName = "userctl"
)

type Config struct {
	config.EnvConfig

	Log    logging.LoggerConfig     `envPrefix:"LOG_"`
	Store  user.SQLiteDatabaseConfig `envPrefix:"STORE_"`
	Reload reload.RedisConfig        `envPrefix:"RELOAD_"`
	Cache  authcache.Config          `envPrefix:"CACHE_"`
	HTTP   http.HTTPTransportConfig  `envPrefix:"HTTP_"`
}

func main() {
	var (
		cfg Config

		configPrefix = strings.ToUpper(strings.Join([]string{appName, svcName}, "_"))
		loggerName   = strings.ToLower(strings.Join([]string{appName, svcName}, "."))
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}

	if err := config.Parse(ctx, &cfg, configPrefix); err != nil {
		panic(err)
	}

	logging.Configure(ctx, cfg.Log, loggerName)

	if err := metrics.Register(nil); err != nil {
		panic(err)
	}

	if err := newRootCommand(cfg, os.Stdout).ExecuteContext(ctx); err != nil {
		logging.GetLogger("cmd.userctl").ErrorContext(ctx, "command failed", "error", err)
		stop()
		os.Exit(1) //nolint:gocritic
	}
}
