package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Tyrowin/gochat-hub/internal/events"
	"github.com/Tyrowin/gochat-hub/internal/server"
	"github.com/Tyrowin/gochat-hub/internal/store"
)

var version = "unreleased"

const shutdownTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:        "gochat-hub",
		Usage:       "Realtime chat and call signaling hub",
		Description: "run without subcommands to start the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the configuration `file`",
				EnvVars: []string{"GOCHAT_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: startServer,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "print the version and exit",
				Action: func(c *cli.Context) error {
					fmt.Printf("gochat-hub version %s/%s\n", version, runtime.Version())
					return nil
				},
			},
		},
		Version: version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*server.Config, error) {
	config := server.NewConfigFromEnv()
	if filename := c.String("config"); filename != "" {
		var err error
		if config, err = server.LoadConfig(filename); err != nil {
			return nil, err
		}
	}

	if c.Bool("debug") {
		config.Debug = true
	}
	return config, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	var logConfig zap.Config
	if debug {
		logConfig = zap.NewDevelopmentConfig()
	} else {
		logConfig = zap.NewProductionConfig()
		logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return logConfig.Build(
		// Only log stack traces when panicing.
		zap.AddStacktrace(zap.DPanicLevel),
	)
}

func openStores(ctx context.Context, log *zap.Logger, config server.StoreConfig) (store.Stores, func(), error) {
	memory := store.NewMemory()
	stores := memory.Stores()
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	var mongoStore *store.Mongo
	if config.Messages == server.StoreMongo || config.Users == server.StoreMongo {
		var err error
		if mongoStore, err = store.NewMongo(ctx, config.MongoURL, config.MongoDatabase); err != nil {
			return store.Stores{}, nil, err
		}
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoStore.Close(ctx); err != nil {
				log.Error("Error disconnecting from MongoDB", zap.Error(err))
			}
		})
		log.Info("Connected to MongoDB",
			zap.String("database", config.MongoDatabase),
		)
	}

	if config.Messages == server.StoreMongo {
		stores.Messages = mongoStore
		stores.Conversations = mongoStore
	}

	switch config.Users {
	case server.StoreMongo:
		stores.Users = mongoStore
	case server.StoreRedis:
		users, err := store.NewRedisUsersFromAddr(ctx, config.RedisAddress, "", 0)
		if err != nil {
			closeAll()
			return store.Stores{}, nil, err
		}
		closers = append(closers, func() {
			if err := users.Close(); err != nil {
				log.Error("Error closing Redis connection", zap.Error(err))
			}
		})
		stores.Users = users
		log.Info("Connected to Redis",
			zap.String("addr", config.RedisAddress),
		)
	}

	return stores, closeAll, nil
}

func startServer(c *cli.Context) error {
	config, err := getConfig(c)
	if err != nil {
		return fmt.Errorf("could not read configuration: %w", err)
	}

	log, err := newLogger(config.Debug)
	if err != nil {
		return fmt.Errorf("could not create logger: %w", err)
	}
	defer log.Sync() // nolint

	restoreGlobalLogs := zap.ReplaceGlobals(log)
	defer restoreGlobalLogs()

	log.Info("Starting up",
		zap.String("version", version),
		zap.String("runtime", runtime.Version()),
		zap.Int("pid", os.Getpid()),
	)

	stores, closeStores, err := openStores(c.Context, log, config.Store)
	if err != nil {
		log.Error("Could not open stores", zap.Error(err))
		return err
	}
	defer closeStores()

	var publisher events.Publisher = events.Noop{}
	if config.NatsURL != "" {
		nats, err := events.NewNatsPublisher(log, config.NatsURL)
		if err != nil {
			log.Error("Could not connect to NATS",
				zap.String("url", config.NatsURL),
				zap.Error(err),
			)
			return err
		}
		publisher = nats
	}
	defer publisher.Close()

	server.RegisterStats()

	hub := server.NewHub(log, config, stores, publisher, nil)
	srv := server.NewServer(log, hub)
	httpServer := server.CreateServer(config.Port, srv.SetupRoutes())

	server.StartHub(log, hub)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(log, httpServer)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.Stringer("signal", sig),
		)
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", zap.Error(err))
			_ = hub.Shutdown(shutdownTimeout)
			return err
		}
	}

	if err := server.ShutdownServer(log, httpServer, shutdownTimeout); err != nil {
		log.Error("Error during HTTP server shutdown", zap.Error(err))
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Error("Error during hub shutdown", zap.Error(err))
	}

	log.Info("Server shutdown complete")
	return nil
}
