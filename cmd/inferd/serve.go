package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/inferd-ai/inferd/internal/gateway/artifact"
	"github.com/inferd-ai/inferd/internal/gateway/auth"
	"github.com/inferd-ai/inferd/internal/gateway/config"
	"github.com/inferd-ai/inferd/internal/gateway/engine"
	"github.com/inferd-ai/inferd/internal/gateway/metadata"
	"github.com/inferd-ai/inferd/internal/gateway/modelcache"
	"github.com/inferd-ai/inferd/internal/gateway/modelver"
	"github.com/inferd-ai/inferd/internal/gateway/runtime"
	"github.com/inferd-ai/inferd/internal/gateway/runtime/dev"
	"github.com/inferd-ai/inferd/internal/gateway/server"
	"github.com/inferd-ai/inferd/internal/gateway/tokenizer"
	"github.com/inferd-ai/inferd/pkg/configutils"
	"github.com/inferd-ai/inferd/pkg/logging"
)

var (
	configFilePath string
	debug          bool
)

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the OpenAI-compatible inference API",
		Run:   runServe,
	}
	cmd.Flags().StringVarP(&configFilePath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) {
	app := fx.New(
		configutils.ProvideViper("INFERD", cmd.Flags(), configFilePath),
		logging.Module,
		logging.UseLoggingInterface,
		fx.Provide(
			provideConfig,
			provideMetadataStores,
			provideObjectClient,
			provideArtifactStore,
			provideRuntime,
			provideCodec,
			provideResolver,
			provideCache,
			provideEngine,
			provideAuthenticator,
			provideServer,
		),
		fx.Invoke(runServer),
	)
	app.Run()
}

func provideConfig(v *viper.Viper, logger logging.Interface) (*config.Config, error) {
	cfg, err := config.NewConfig(
		config.WithViper(v),
		config.WithAnotherLog(logger),
	)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideMetadataStores(lc fx.Lifecycle, cfg *config.Config, logger logging.Interface) (metadata.VersionStore, metadata.KeyStore, error) {
	if cfg.LocalDev {
		logger.Info("Local dev mode: using the in-process metadata store")
		return metadata.LocalStore{}, metadata.LocalStore{}, nil
	}

	client, err := metadata.NewFirestoreClient(context.Background(), cfg.GoogleCloudProject)
	if err != nil {
		return nil, nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})

	store := metadata.NewFirestoreStore(client, logger)
	return store, store, nil
}

func provideObjectClient(lc fx.Lifecycle, cfg *config.Config, logger logging.Interface) (artifact.ObjectClient, error) {
	if cfg.LocalDev {
		// Mount path and local cache are the only artifact sources.
		return nil, nil
	}

	client, err := artifact.NewGCSClient(context.Background(), cfg.GCSBucket, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
	return client, nil
}

func provideArtifactStore(cfg *config.Config, objects artifact.ObjectClient, logger logging.Interface) *artifact.Store {
	return artifact.NewStore(afero.NewOsFs(), objects, cfg.GCSModelPrefix, cfg.MountPath, cfg.LocalModelCache, logger)
}

func provideRuntime(logger logging.Interface) runtime.Runtime {
	return dev.New(logger)
}

func provideCodec() (tokenizer.Codec, error) {
	return tokenizer.NewTiktokenCodec()
}

func provideResolver(cfg *config.Config, versions metadata.VersionStore, logger logging.Interface) *modelver.Resolver {
	ttl := time.Duration(cfg.VersionCacheTTLSeconds) * time.Second
	return modelver.NewResolver(versions, ttl, logger)
}

func provideCache(rt runtime.Runtime, artifacts *artifact.Store, resolver *modelver.Resolver, codec tokenizer.Codec, cfg *config.Config, logger logging.Interface) *modelcache.Cache {
	return modelcache.New(rt, artifacts, resolver, codec, afero.NewOsFs(), modelcache.Config{
		MinFreeMemoryGB: cfg.MinFreeMemoryGB,
		MemorySoftLimit: cfg.MemorySoftLimit,
		LocalDev:        cfg.LocalDev,
	}, logger)
}

func provideEngine(cache *modelcache.Cache, codec tokenizer.Codec, cfg *config.Config, logger logging.Interface) *engine.Engine {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	return engine.New(cache, codec, int64(cfg.MaxConcurrent()), timeout, logger)
}

func provideAuthenticator(cfg *config.Config, keys metadata.KeyStore, logger logging.Interface) *auth.Authenticator {
	return auth.New(keys, cfg.RequireAuth, cfg.BaseModelAPIKey, logger)
}

func provideServer(cfg *config.Config, eng *engine.Engine, cache *modelcache.Cache, resolver *modelver.Resolver, authn *auth.Authenticator, rt runtime.Runtime, logger logging.Interface, zapLogger *zap.Logger) *server.Server {
	return server.New(cfg, eng, cache, resolver, authn, rt, logger, zapLogger)
}

func runServer(lc fx.Lifecycle, s *server.Server, sh fx.Shutdowner, logger logging.Interface) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := s.Run(ctx); err != nil {
					logger.WithError(err).Error("HTTP server exited with error")
					os.Exit(1)
				}
				_ = sh.Shutdown()
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
