package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/product-labo/Meta-sub005/internal/config"
	"github.com/product-labo/Meta-sub005/internal/logger"
	"github.com/product-labo/Meta-sub005/pkg/api"
	"github.com/product-labo/Meta-sub005/pkg/broadcaster"
	"github.com/product-labo/Meta-sub005/pkg/chain"
	"github.com/product-labo/Meta-sub005/pkg/decoder"
	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
	"github.com/product-labo/Meta-sub005/pkg/persistence"
	"github.com/product-labo/Meta-sub005/pkg/rpcpool"
	"github.com/product-labo/Meta-sub005/pkg/storage"
	"github.com/product-labo/Meta-sub005/pkg/worker"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		storagePath = flag.String("storage", "", "Embedded key/value store path")
		workers     = flag.Int("workers", 0, "Number of concurrent indexing jobs")
		batchSize   = flag.Int("batch-size", 0, "Number of blocks per batch")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")
		apiHost     = flag.String("api-host", "", "API server host")
		apiPort     = flag.Int("api-port", 0, "API server port")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("wallet-indexer version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *storagePath, *workers, *batchSize, *logLevel, *logFormat, *apiHost, *apiPort)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting indexer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.Int("chains", len(cfg.Chains)),
		zap.Int("workers", cfg.Indexer.Workers),
		zap.String("queue_backend", cfg.Broadcaster.QueueBackend),
	)

	if err := run(cfg, log); err != nil {
		log.Error("Indexer stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Indexer stopped")
}

// run wires the components and blocks until a shutdown signal
func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	health := api.NewHealthChecker(version)

	// Embedded key/value store
	var kv storage.KVStore
	if cfg.Storage.Path != "" {
		storageConfig := storage.DefaultConfig(cfg.Storage.Path)
		storageConfig.ReadOnly = cfg.Storage.ReadOnly
		store, err := storage.NewPebbleStore(storageConfig, log)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Error("Failed to close storage", zap.Error(err))
			}
		}()
		kv = store
		log.Info("Storage initialized", zap.String("path", cfg.Storage.Path))
	}

	// Signature database and decoder
	var sigCache decoder.SignatureCache
	if cfg.Decoder.PersistCache && kv != nil {
		sigCache = decoder.NewKVSignatureCache(kv)
	}
	sigDB, err := decoder.NewSignatureDB(sigCache, log)
	if err != nil {
		return fmt.Errorf("failed to load signature database: %w", err)
	}
	var resolver *decoder.Resolver
	if cfg.Decoder.LookupEnabled {
		lookuper := decoder.NewHTTPLookuper(decoder.HTTPLookuperConfig{
			SourcifyURL: cfg.Decoder.SourcifyURL,
			FourByteURL: cfg.Decoder.FourByteURL,
			Timeout:     cfg.Decoder.LookupTimeout,
		}, log)
		resolver = decoder.NewResolver(sigDB, lookuper, decoder.ResolverConfig{
			QueueSize:  cfg.Decoder.ResolverQueueSize,
			RetryAfter: cfg.Decoder.UnknownRetryAfter,
			Timeout:    cfg.Decoder.LookupTimeout,
		}, log)
		go resolver.Run(ctx)
	}
	dec := decoder.New(sigDB, resolver, log)
	log.Info("Signature database loaded",
		zap.Int("signatures", sigDB.Len()),
		zap.Bool("lookup", resolver != nil),
	)

	// Endpoint failover and chain clients
	endpoints := rpcpool.NewManager(rpcpool.Config{
		BackoffBase: cfg.RPC.BackoffBase,
		BackoffMax:  cfg.RPC.BackoffMax,
		MaxAttempts: cfg.RPC.MaxAttempts,
		CallTimeout: cfg.RPC.Timeout,
	}, log)
	chainTypes := make(map[string]chain.Type, len(cfg.Chains))
	batchSizes := make(map[string]int, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		chainType, err := chain.ParseType(ch.Type)
		if err != nil {
			return fmt.Errorf("chain %s: %w", ch.Name, err)
		}
		if err := endpoints.AddChain(ch.Name, ch.Endpoints, rpcpool.ChainOptions{
			CallTimeout: ch.RPCTimeout,
			RateLimit:   ch.RateLimit,
			RateBurst:   ch.RateBurst,
		}); err != nil {
			return fmt.Errorf("chain %s: %w", ch.Name, err)
		}
		chainTypes[ch.Name] = chainType
		batchSizes[ch.Name] = ch.BatchSize
		log.Info("Chain configured",
			zap.String("chain", ch.Name),
			zap.String("type", string(chainType)),
			zap.Int("endpoints", len(ch.Endpoints)),
		)
	}
	clients := chain.NewClientCache(chain.Dial, log)
	defer clients.Close()
	health.SetEndpoints(endpoints)

	// Job, wallet and transaction stores
	var (
		jobStore    orchestrator.JobStore        = orchestrator.NewMemoryJobStore()
		walletStore orchestrator.WalletStore     = orchestrator.NewMemoryWalletStore()
		txStore     persistence.TransactionStore = persistence.NewMemoryTransactionStore()
	)
	if cfg.Database.Enabled {
		db, err := persistence.Open(cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := persistence.Close(db); err != nil {
				log.Error("Failed to close database", zap.Error(err))
			}
		}()
		if cfg.Database.AutoMigrate {
			if err := persistence.Migrate(db); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		jobStore = persistence.NewJobStore(db)
		walletStore = persistence.NewWalletStore(db)
		txStore = persistence.NewGormTransactionStore(db)
		health.AddCheck("database", pingDatabase(db))
	} else {
		log.Warn("Database disabled, jobs and transactions are kept in memory")
	}

	// Orchestrator
	orch := orchestrator.New(orchestrator.Config{
		QueueSize:      cfg.Indexer.QueueSize,
		EventBuffer:    cfg.Indexer.EventBuffer,
		PublishTimeout: cfg.Indexer.PublishTimeout,
	}, jobStore, walletStore, log)
	defer func() {
		if err := orch.Close(); err != nil {
			log.Error("Failed to close orchestrator", zap.Error(err))
		}
	}()
	if cfg.Kafka.Enabled {
		hostname, _ := os.Hostname()
		sink, err := orchestrator.NewKafkaSink(orchestrator.KafkaSinkConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			NodeID:  hostname,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create kafka sink: %w", err)
		}
		orch.AddSink(sink)
	}
	requeued, failed, err := orch.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}
	log.Info("Jobs recovered", zap.Int("requeued", requeued), zap.Int("failed", failed))
	health.SetQueue(orch)

	// Progress broadcaster
	queue, err := broadcaster.NewMessageQueue(cfg.Broadcaster, cfg.Redis, kv)
	if err != nil {
		return fmt.Errorf("failed to create offline queue: %w", err)
	}
	if pinger, ok := queue.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			_ = queue.Close()
			return fmt.Errorf("offline queue unreachable: %w", err)
		}
		health.AddCheck("redis", pinger.Ping)
	}
	hub := broadcaster.NewHub(broadcaster.HubConfig{
		Shards:     cfg.Broadcaster.Shards,
		SendBuffer: cfg.Broadcaster.SendBuffer,
		MaxClients: cfg.Broadcaster.MaxClients,
	}, queue, log)
	defer func() {
		if err := hub.Close(); err != nil {
			log.Error("Failed to close broadcaster", zap.Error(err))
		}
	}()
	go hub.Run(ctx)
	health.SetSubscribers(hub)

	auth, err := broadcaster.NewAuthenticator(cfg.Broadcaster.Auth)
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- broadcaster.NewConsumer(hub, orch.Events(), log).Run(context.Background())
	}()

	// Chain workers
	heads := worker.NewHeadReader(endpoints, clients, chainTypes)
	w := worker.New(worker.Config{
		BatchSize:       cfg.Indexer.BatchSize,
		ChainBatchSizes: batchSizes,
		MaxBackoffWait:  cfg.Indexer.MaxBackoffWait,
	}, orch, endpoints, clients, dec, txStore, log)
	pool := worker.NewPool(cfg.Indexer.Workers, orch, w, log)
	pool.Start(ctx)

	// API server
	apiServer, err := api.NewServer(api.FromConfig(cfg), log, api.ServerOptions{
		Jobs:      orch,
		Heads:     heads,
		WebSocket: broadcaster.NewHandler(hub, auth, log).WithAllowedOrigins(cfg.API.AllowedOrigins),
		Health:    health,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	serverErr := make(chan error, 1)
	go func() { serverErr <- apiServer.Start() }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case runErr = <-serverErr:
		log.Error("API server failed", zap.Error(runErr))
	}

	log.Info("Shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server gracefully", zap.Error(err))
	}

	// interrupted jobs are failed before the event stream closes
	pool.Stop()
	if err := orch.Close(); err != nil {
		log.Error("Failed to close orchestrator", zap.Error(err))
	}
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn("Progress consumer did not drain before shutdown timeout")
	}

	return runErr
}

// pingDatabase returns a health check probing the database connection
func pingDatabase(db *gorm.DB) api.CheckFunc {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

// loadConfig loads configuration from file and environment variables
func loadConfig(configFile string) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, storagePath string, workers, batchSize int, logLevel, logFormat, apiHost string, apiPort int) {
	if storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if workers > 0 {
		cfg.Indexer.Workers = workers
	}
	if batchSize > 0 {
		cfg.Indexer.BatchSize = batchSize
		for i := range cfg.Chains {
			cfg.Chains[i].BatchSize = batchSize
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if apiHost != "" {
		cfg.API.Host = apiHost
	}
	if apiPort > 0 {
		cfg.API.Port = apiPort
	}
}
