package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/config"
	"github.com/adminx/perfgate/internal/common/logger"
	"github.com/adminx/perfgate/internal/common/metricsserver"
	"github.com/adminx/perfgate/internal/common/redis"
	"github.com/adminx/perfgate/internal/common/wpdb"
	"github.com/adminx/perfgate/internal/edge/assets"
	"github.com/adminx/perfgate/internal/edge/cleanup"
	"github.com/adminx/perfgate/internal/edge/dbclean"
	"github.com/adminx/perfgate/internal/edge/images"
	"github.com/adminx/perfgate/internal/edge/internal_server"
	"github.com/adminx/perfgate/internal/edge/metrics"
	"github.com/adminx/perfgate/internal/edge/origin"
	"github.com/adminx/perfgate/internal/edge/pagecache"
	"github.com/adminx/perfgate/internal/edge/perftest"
	"github.com/adminx/perfgate/internal/edge/server"
	"github.com/adminx/perfgate/pkg/types"
)

func main() {
	configPath := flag.String("c", "configs/perf-gateway.yaml", "path to configuration file")
	testMode := flag.Bool("t", false, "test configuration and exit")
	flag.Parse()

	if *testMode {
		os.Exit(runConfigTest(*configPath))
	}

	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	initialLogger.Info("Starting Performance Gateway", zap.String("config_path", *configPath))

	cfg, err := config.Load(*configPath, initialLogger.Logger)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	dynamicLogger, err := logger.NewLoggerWithStartupOverride(cfg.Log, zap.String("gw", cfg.InstanceID))
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()
	gwLogger := dynamicLogger.Logger

	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	// Database: attachments, cleanup and stored options
	var db *wpdb.DB
	if cfg.Database.Enabled {
		db, err = wpdb.Open(ctx, cfg.Database, gwLogger)
		if err != nil {
			gwLogger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
	}

	var optionsSource config.OptionsSource
	if db != nil && cfg.Database.SyncOptions {
		optionsSource = db
	}
	liveOptions := config.NewLiveOptions(cfg.Features, optionsSource, gwLogger)
	liveOptions.Start(cfg.Database.OptionsRefresh.ToDuration())

	// Redis: cache index, peer invalidation and the cleanup lock
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(&cfg.Redis, gwLogger)
		if err != nil {
			gwLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var (
		cacheIndex  pagecache.Index
		broadcaster pagecache.Broadcaster
		locker      dbclean.Locker
	)
	if redisClient != nil {
		cacheIndex = redisClient
		broadcaster = redisClient
		locker = redisClient
	}

	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, gwLogger)

	metricsServer, err := metricsserver.Start(cfg.Metrics, metricsCollector, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	cacheManager, err := pagecache.NewManager(pagecache.Config{
		Dir:         filepath.Join(cfg.Site.UploadsDir, types.PageCacheDirName),
		Compression: cfg.Cache.Compression,
		MaxAge:      cfg.Cache.MaxAge.ToDuration(),
		InstanceID:  cfg.InstanceID,
	}, cacheIndex, broadcaster, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to create page cache", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.SubscribeInvalidations(ctx, cacheManager.HandlePeerInvalidation); err != nil {
			gwLogger.Fatal("Failed to subscribe to cache invalidations", zap.Error(err))
		}
	}

	policy := pagecache.NewPolicy(cfg.Cache.AllowedQueryParams, cfg.Cache.BypassPaths, cfg.Cache.BypassCookies)

	assetOptimizer, err := assets.NewOptimizer(assets.Config{
		SiteURL:         cfg.Site.URL,
		DocumentRoot:    cfg.Site.DocumentRoot,
		UploadsURL:      cfg.Site.UploadsURL,
		UploadsDir:      cfg.Site.UploadsDir,
		CriticalScripts: cfg.Assets.CriticalScripts,
	}, liveOptions, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to create asset optimizer", zap.Error(err))
	}

	var attachments images.AttachmentStore
	if db != nil {
		attachments = db
	}
	imageOptimizer, err := images.NewOptimizer(images.Config{
		UploadsURL: cfg.Site.UploadsURL,
		UploadsDir: cfg.Site.UploadsDir,
		BulkLimit:  cfg.Images.BulkBatchSize,
	}, attachments, liveOptions, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to create image optimizer", zap.Error(err))
	}

	originClient, err := origin.NewClient(origin.Config{
		URL:       cfg.Origin.URL,
		Timeout:   cfg.Origin.Timeout.ToDuration(),
		UserAgent: cfg.Origin.UserAgent,
	}, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to create origin client", zap.Error(err))
	}

	siteHost, uploadsPath := siteLocation(cfg.Site.URL, cfg.Site.UploadsURL)

	var (
		cleaner       *dbclean.Cleaner
		cleanupWorker *cleanup.DatabaseCleanupWorker
		dbCleaner     internal_server.DatabaseCleaner
		dbStats       internal_server.DatabaseStatsSource
		imageStats    internal_server.ImageStatsSource
		pinger        perftest.Pinger
	)
	if db != nil {
		cleanupMetrics := cleanup.NewCleanupMetrics(cfg.Metrics.Namespace, gwLogger)
		cleaner = dbclean.NewCleaner(dbclean.Config{
			KeepRevisions:  cfg.Database.KeepRevisions,
			TrashRetention: cfg.Database.TrashRetention.ToDuration(),
			InstanceID:     cfg.InstanceID,
		}, db, liveOptions, locker, cleanupMetrics, gwLogger)
		cleanupWorker = cleanup.NewDatabaseCleanupWorker(&cfg.Cleanup, cleaner, gwLogger)

		dbCleaner = cleaner
		dbStats = cleaner
		imageStats = imageOptimizer
		pinger = db
	}

	// The performance test times a real request against our own listener
	gatewayClient, err := origin.NewClient(origin.Config{
		URL:       loopbackURL(cfg.Server.Listen),
		Timeout:   cfg.Origin.Timeout.ToDuration(),
		UserAgent: cfg.Origin.UserAgent,
	}, gwLogger)
	if err != nil {
		gwLogger.Fatal("Failed to create gateway client", zap.Error(err))
	}
	tester := perftest.NewTester(perftest.Config{Host: siteHost}, originClient, gatewayClient, pinger, gwLogger)

	// Admin API
	internalSrv := internal_server.NewInternalServer(cfg.Internal.AuthKey, gwLogger)
	internal_server.NewCacheHandler(cacheManager, metricsCollector, gwLogger).RegisterEndpoints(internalSrv)
	internal_server.NewOptimizeHandler(assetOptimizer, imageOptimizer, cfg.Images.BulkBatchSize, metricsCollector, gwLogger).
		RegisterEndpoints(internalSrv)
	internal_server.NewDBHandler(dbCleaner, gwLogger).RegisterEndpoints(internalSrv)
	internal_server.NewStatsHandler(cacheManager, assetOptimizer, imageStats, dbStats, metricsCollector, gwLogger).
		RegisterEndpoints(internalSrv)
	internal_server.NewPerfHandler(tester, gwLogger).RegisterEndpoints(internalSrv)
	internal_server.NewSystemHandler(dynamicLogger, cfg.InstanceID, gwLogger).RegisterEndpoints(internalSrv)

	gwLogger.Info("Internal server initialized with endpoints registered")

	srv := server.NewServer(server.Config{
		SiteHost:        siteHost,
		UploadsPath:     uploadsPath,
		UploadsDir:      cfg.Site.UploadsDir,
		ClientIPHeaders: cfg.Server.ClientIPHeaders,
	}, liveOptions, policy, cacheManager, originClient, assetOptimizer, imageOptimizer, metricsCollector, gwLogger)

	go func() {
		if err := internalSrv.Start(cfg.Internal.Listen); err != nil {
			gwLogger.Error("Internal server failed", zap.Error(err))
		}
	}()

	if cleanupWorker != nil {
		cleanupWorker.Start()
	}

	serverErrors := make(chan error, 1)
	httpLifecycle := &serverLifecycle{
		server:  newFastHTTPServer(srv.HandleRequest, cfg.Server.Timeout.ToDuration()),
		name:    "HTTP",
		address: cfg.Server.Listen,
		logger:  gwLogger,
	}
	httpLifecycle.StartWithErrorChan(serverErrors)

	// Wait briefly for the listener to bind and check for immediate failures
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrors:
		gwLogger.Fatal("Server failed to start", zap.Error(err))
	default:
	}

	gwLogger.Info("Performance Gateway started",
		zap.String("http_addr", cfg.Server.Listen),
		zap.String("internal_addr", cfg.Internal.Listen),
		zap.String("origin", cfg.Origin.URL))

	dynamicLogger.SwitchToConfiguredLevel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		dynamicLogger.EnsureInfoLevelForShutdown()
		gwLogger.Info("Shutting down Performance Gateway...")
	case err := <-serverErrors:
		dynamicLogger.EnsureInfoLevelForShutdown()
		gwLogger.Error("Server failed, initiating shutdown", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cleanupWorker != nil {
		cleanupWorker.Shutdown()
	}
	liveOptions.Shutdown()
	cancelBackground()

	if metricsServer != nil {
		gwLogger.Info("Shutting down metrics server")
		if err := metricsServer.ShutdownWithContext(shutdownCtx); err != nil {
			gwLogger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if err := internalSrv.Shutdown(shutdownCtx); err != nil {
		gwLogger.Error("Failed to shutdown internal server gracefully", zap.Error(err))
	}

	_ = httpLifecycle.Shutdown(shutdownCtx)

	gwLogger.Info("Performance Gateway stopped")
}

// siteLocation returns the public host and the URL path of the uploads directory
func siteLocation(siteURL, uploadsURL string) (host, uploadsPath string) {
	if u, err := url.Parse(siteURL); err == nil {
		host = u.Host
	}
	uploadsPath = "/wp-content/uploads"
	if u, err := url.Parse(uploadsURL); err == nil && u.Path != "" {
		uploadsPath = u.Path
	}
	return host, uploadsPath
}

// loopbackURL turns a listen address into a URL reachable from this host.
// Wildcard hosts become 127.0.0.1.
func loopbackURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

const serverName = "PerfGateway/1.0"

func newFastHTTPServer(handler fasthttp.RequestHandler, timeout time.Duration) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:                      handler,
		Name:                         serverName,
		ReadTimeout:                  timeout,
		WriteTimeout:                 timeout,
		IdleTimeout:                  timeout,
		DisablePreParseMultipartForm: true,
		NoDefaultServerHeader:        true,
		NoDefaultDate:                true,
	}
}

type serverLifecycle struct {
	server  *fasthttp.Server
	name    string
	address string
	logger  *zap.Logger
}

func (s *serverLifecycle) StartWithErrorChan(errChan chan<- error) {
	go func() {
		if err := s.server.ListenAndServe(s.address); err != nil {
			s.logger.Error("Server error", zap.String("name", s.name), zap.Error(err))
			if errChan != nil {
				errChan <- fmt.Errorf("%s server failed: %w", s.name, err)
			}
		}
	}()
	s.logger.Info("Server started", zap.String("name", s.name), zap.String("address", s.address))
}

func (s *serverLifecycle) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server", zap.String("name", s.name))
	err := s.server.ShutdownWithContext(ctx)
	if err != nil {
		s.logger.Error("Server shutdown error", zap.String("name", s.name), zap.Error(err))
	}
	return err
}

// runConfigTest loads and validates the configuration without starting anything
func runConfigTest(configPath string) int {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation FAILED:\n%v\n", err)
		return 1
	}

	fmt.Printf("configuration file %s syntax is ok\n", configPath)
	fmt.Printf("- site:     %s\n", cfg.Site.URL)
	fmt.Printf("- origin:   %s\n", cfg.Origin.URL)
	fmt.Printf("- uploads:  %s\n", cfg.Site.UploadsDir)
	fmt.Printf("- database: %t, redis: %t, metrics: %t\n", cfg.Database.Enabled, cfg.Redis.Enabled, cfg.Metrics.Enabled)
	fmt.Println("configuration test is successful")
	return 0
}
