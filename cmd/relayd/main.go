package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	v1 "relayd/api/v1"
	"relayd/api/v1/middleware"
	"relayd/internal/auth"
	"relayd/internal/bootstrap"
	"relayd/internal/cache"
	"relayd/internal/config"
	"relayd/internal/configver"
	"relayd/internal/db"
	"relayd/internal/httpx"
	"relayd/internal/identity"
	"relayd/internal/pki"
	"relayd/internal/registry"
	"relayd/internal/service"
	"relayd/internal/taskstore"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(logger); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.WithError(err).Fatal("relayd failed")
	}
}

func run(logger *logrus.Logger) error {
	var configPath, relayConfigPath string

	flagSet := pflag.NewFlagSet("relayd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "INI configuration file (environment variables take precedence)")
	flagSet.StringVar(&relayConfigPath, "relay-config", "", "relay config file (default: <site-root>/relay_config.json)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	// 1. Load configuration
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromINI(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if relayConfigPath != "" {
		cfg.RelayConfigPath = relayConfigPath
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
	}
	log := logrus.NewEntry(logger)
	httpx.SetLogger(log)

	relayCfg, err := config.LoadRelayConfig(cfg.RelayConfigPath)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"taskTTL":          relayCfg.TaskTTL,
		"maxTasksPerRelay": relayCfg.MaxTasksPerRelay,
		"path":             cfg.RelayConfigPath,
	}).Info("Relay config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Relay registry, optionally backed by MySQL
	reg := registry.New()
	if cfg.MySQL.DSN != "" {
		conn, err := db.OpenMySQL(cfg.MySQL.DSN, log)
		if err != nil {
			return err
		}
		defer db.Close(conn)
		if err := db.Migrate(conn, log); err != nil {
			return err
		}
		if reg, err = registry.NewPersistent(db.NewRelayRepository(conn)); err != nil {
			return err
		}
		log.WithField("relays", len(reg.List())).Info("Relay registry loaded from MySQL")
	}

	// 3. Registration tokens, only with Redis
	var regTokens *bootstrap.TokenStore
	if cfg.Redis.Addr != "" {
		rdb, err := cache.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			return err
		}
		defer rdb.Close()
		regTokens = bootstrap.NewTokenStore(rdb)
	}

	// 4. Site CA, tokens and config serial
	ca, err := pki.NewCAManager(cfg.DataDir)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer)
	if err != nil {
		return err
	}
	serials, err := configver.NewTracker(cfg.VarDir)
	if err != nil {
		return err
	}
	log.WithField("serial", serials.Current()).Info("Config serial loaded")

	// 5. Task store and background sweeper
	store := taskstore.New(relayCfg.TaskTTL, relayCfg.MaxTasksPerRelay)
	if cfg.TaskSweeper.Enabled {
		sweeper := taskstore.NewSweeper(&taskstore.SweeperConfig{
			Store:       store,
			Logger:      log,
			IntervalSec: cfg.TaskSweeper.IntervalSec,
		})
		sweeper.Start()
		defer sweeper.Stop()
	}

	// 6. HTTP API
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	v1.SetupRouter(r, &v1.Deps{
		Tokens: tokens,
		Credentials: auth.Credentials{
			Username:     cfg.Automation.User,
			PasswordHash: cfg.Automation.PasswordHash,
		},
		TokenTTL: time.Duration(cfg.JWT.ExpireMinutes) * time.Minute,
		Auth:     middleware.NewAuthenticator(tokens, ca.CertPool(), regTokens),
		Identity: identity.NewService(&identity.Config{
			CA:           ca,
			Registry:     reg,
			Tokens:       tokens,
			Logger:       log,
			ValidityDays: cfg.PKI.CertValidityDays,
		}),
		Tasks: service.NewTaskService(&service.TaskServiceConfig{
			Store:    store,
			Registry: reg,
			Serials:  serials,
			Logger:   log,
		}),
		RegTokens: regTokens,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLS.Enabled() {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ClientCAs:  ca.CertPool(),
			// relays may present a site certificate; site users use tokens
			ClientAuth: tls.VerifyClientCertIfGiven,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr": cfg.HTTPAddr,
			"tls":  cfg.TLS.Enabled(),
		}).Info("Server starting")

		var err error
		if cfg.TLS.Enabled() {
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
