package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bluele/gcache"
	"github.com/joho/godotenv"

	"github.com/camvigil/camvigil/src/cmd/camvigil/internal/flag"
	"github.com/camvigil/camvigil/src/configs"
	"github.com/camvigil/camvigil/src/consts"
	"github.com/camvigil/camvigil/src/instance"
	"github.com/camvigil/camvigil/src/log"
	"github.com/camvigil/camvigil/src/metrics"
	camsentry "github.com/camvigil/camvigil/src/pkg/sentry"
	"github.com/camvigil/camvigil/src/playback"
	"github.com/camvigil/camvigil/src/recorders"
	"github.com/camvigil/camvigil/src/servers"
)

var (
	// SentryDSN is injected with -ldflags="-X main.SentryDSN=..."; the
	// CAMVIGIL_SENTRY_DSN environment variable and the config file are
	// consulted when it is empty.
	SentryDSN = ""
	SentryEnv = "production"
)

func getConfig() (*configs.Config, error) {
	var config *configs.Config
	if *flag.Conf != "" {
		c, err := configs.NewConfigWithFile(*flag.Conf)
		if err != nil {
			return nil, err
		}
		flag.Override(c)
		config = c
	} else {
		config = flag.GenConfigFromFlags()
	}
	if *flag.Conf == "" && len(config.Cameras) == 0 {
		// fall back to the config.yml next to the executable
		if c, err := getConfigBesidesExecutable(); err == nil {
			flag.Override(c)
			return c, c.Verify()
		}
	}
	return config, config.Verify()
}

func getConfigBesidesExecutable() (*configs.Config, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return configs.NewConfigWithFile(filepath.Join(filepath.Dir(exePath), "config.yml"))
}

func sentryDSN(config *configs.Config) string {
	switch {
	case SentryDSN != "":
		return SentryDSN
	case os.Getenv("CAMVIGIL_SENTRY_DSN") != "":
		return os.Getenv("CAMVIGIL_SENTRY_DSN")
	default:
		return config.Sentry.DSN
	}
}

func main() {
	defer camsentry.Flush(2 * time.Second)
	defer camsentry.Recover()

	// a missing .env is normal
	_ = godotenv.Load(*flag.EnvFile)

	config, err := getConfig()
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		os.Exit(1)
	}
	configs.SetCurrentConfig(config)

	if dsn := sentryDSN(config); config.Sentry.Enable && dsn != "" {
		environment := SentryEnv
		if config.Debug {
			environment = "development"
		}
		if err := camsentry.Init(dsn, environment, consts.AppVersion); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to init sentry: %v\n", err)
		}
	}

	inst := new(instance.Instance)
	cacheSize, cacheTTL := config.Playback.QueryCacheSize, config.Playback.QueryCacheTTL
	if cacheSize <= 0 {
		cacheSize = 256
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	inst.Cache = gcache.New(cacheSize).LRU().Expiration(cacheTTL).Build()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	ctx := instance.WithInstance(rootCtx, inst)

	logger, err := log.New(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	logger.Infof("%s Version: %s Start", consts.AppName, consts.AppVersion)
	if config.File != "" {
		logger.Debugf("config path: %s.", config.File)
	} else {
		logger.Debugf("config file is not used, flags: %s", os.Args)
	}
	logger.Debugf("%+v", consts.GetAppInfo())

	rm := recorders.NewManager(ctx)
	catalog := playback.NewCatalog(ctx)

	if config.Metrics.Enable {
		if err = servers.NewServer(ctx).Start(ctx); err != nil {
			logger.WithError(err).Fatalf("failed to init server")
		}
	}
	// the catalog subscribes to the manager before recording starts
	if err = catalog.Start(ctx); err != nil {
		logger.Fatalf("failed to init catalog, error: %s", err)
	}
	if err = rm.Start(ctx); err != nil {
		logger.Fatalf("failed to init recorder manager, error: %s", err)
	}
	collector := metrics.NewCollector(rm.ArchiveRoot, rm.GetAllSourcePIDs)
	if err = collector.Start(ctx); err != nil {
		logger.Fatalf("failed to init metrics collector, error: %s", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	camsentry.Go(func() {
		<-c
		logger.Info("Received shutdown signal, closing...")
		if inst.Server != nil {
			inst.Server.Close(ctx)
		}
		// the manager persists the last segments before returning
		inst.RecorderManager.Close(ctx)
		inst.Catalog.Close(ctx)
		collector.Close(ctx)
		rootCancel()
		logger.Info("Shutdown complete")
	})

	inst.WaitGroup.Wait()
	logger.Info("Bye~")
}
