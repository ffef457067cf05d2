package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"os/signal"
	"sharebin/cfg"
	"sharebin/pkg/kms"
	"sharebin/svc/api"
	"sharebin/svc/auth"
	"sharebin/svc/blob"
	"sharebin/svc/cache"
	"sharebin/svc/db"
	"sharebin/svc/mon"
	"sharebin/svc/svc"
	"sharebin/svc/util"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

var errPepperShort = errors.New("pepper must be at least 32 bytes")

type metaStore interface {
	svc.MetaStore
	Ping(ctx context.Context) error
	Close() error
}

type blobBackend interface {
	cache.Backend
	Close() error
}

// s3 has no handle to release
type s3Backend struct{ *blob.S3 }

func (s3Backend) Close() error { return nil }

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthCheck())
	}
	util.InitLog("info", false)

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting sharebin API")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var kmsAdapter *kms.Adapter
	if c.EncryptBlobs || c.PepperFromKMS {
		kmsAdapter, err = kms.NewAdapter(ctx, kmsOptions(c))
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize KMS adapter")
			os.Exit(1)
		}
		util.Info().Str("provider", kmsAdapter.Name()).Msg("KMS adapter initialized")
	}

	pepper, err := loadPepper(ctx, c, kmsAdapter)
	if err != nil {
		util.Fatal().Err(err).Msg("CRITICAL: pepper unavailable")
		os.Exit(1)
	}

	meta, err := openMeta(ctx, c)
	if err != nil {
		util.Wipe(pepper)
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer meta.Close()

	quitWAL := make(chan struct{})
	walDone := make(chan struct{})
	if sqlDB, ok := meta.(*db.SQLite); ok {
		go func() {
			defer close(walDone)
			sqlDB.StartWALMaintenance(0, quitWAL)
		}()
		util.Info().Msg("WAL maintenance worker started")
	} else {
		close(walDone)
	}

	store, err := openBlobs(ctx, c)
	if err != nil {
		util.Wipe(pepper)
		util.Fatal().Err(err).Msg("failed to initialize blob storage")
		os.Exit(1)
	}
	defer store.Close()

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("CRITICAL: Redis configured but unreachable in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable, continuing without shared cache")
			rdb = nil
		} else {
			util.Info().Msg("redis connected")
			defer rdb.Close()
		}
	}

	lru, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}
	var remote cache.Remote
	opts := []svc.Option{}
	if rdb != nil {
		remote = rdb
		opts = append(opts, svc.WithStaleTracker(rdb))
	}
	blobs := cache.NewBlobs(store, lru, remote, c.BlobCacheMaxItem, c.BlobCacheTTL)
	util.Info().
		Int("lru_size", c.LRUCacheSize).
		Bool("redis_tier", rdb != nil).
		Msg("blob cache initialized")

	hasher, err := auth.NewHasher(c.Argon2Time, c.Argon2Memory, c.Argon2Parallelism, pepper)
	util.Wipe(pepper)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize hasher")
		os.Exit(1)
	}
	if err := hasher.Start(c.HasherWorkerCount); err != nil {
		util.Fatal().Err(err).Msg("failed to start hasher")
		os.Exit(1)
	}
	defer hasher.Stop()
	util.Info().Int("workers", c.HasherWorkerCount).Msg("hasher initialized")

	if c.EncryptBlobs {
		envelope := kms.NewEnvelope(kmsAdapter, kms.NewKEKCache(kmsAdapter, c.KEKCacheTTL))
		defer envelope.Stop()
		opts = append(opts, svc.WithSealer(envelope))
		util.Info().Dur("kek_cache_ttl", c.KEKCacheTTL).Msg("encryption at rest enabled")
	}

	pasteSvc := svc.NewPaste(meta, blobs, hasher, c, opts...)
	pasteSvc.StartCleaner(ctx, c.CleanupInterval)

	detector := mon.NewAnomalyDetector(func(rate float64) {
		util.Warn().Float64("error_rate_percent", rate).Msg("elevated server error rate")
	})
	detector.Start()
	defer detector.Stop()

	server := api.NewServer(c, pasteSvc, detector, meta, blobs, rdb)
	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	cancel()
	pasteSvc.Shutdown()
	close(quitWAL)
	select {
	case <-walDone:
		util.Info().Msg("WAL maintenance stopped")
	case <-time.After(6 * time.Second):
		util.Warn().Msg("WAL maintenance did not stop gracefully")
	}
	util.Info().Msg("shutdown complete")
}

// healthCheck backs the container health check: it asks the local listener
// instead of opening the stores a second time.
func healthCheck() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "5000"
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://127.0.0.1:" + port + "/health")
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
func kmsOptions(c *cfg.Cfg) kms.Options {
	return kms.Options{
		RequirePrimary:  c.KMS.RequirePrimary,
		FailClosed:      c.KMS.FailClosed,
		LocalKey:        c.KMS.LocalKey.Value(),
		VaultAddr:       c.KMS.VaultAddr,
		VaultToken:      c.KMS.VaultToken.Value(),
		VaultTokenFile:  c.KMS.VaultTokenFile,
		VaultMountPath:  c.KMS.VaultMountPath,
		VaultKeyID:      c.KMS.VaultKeyID,
		VaultSecretPath: c.KMS.VaultSecretPath,
		AWSRegion:       c.KMS.AWSRegion,
		AWSKeyID:        c.KMS.AWSKeyID,
	}
}
func loadPepper(ctx context.Context, c *cfg.Cfg, a *kms.Adapter) ([]byte, error) {
	var pepper []byte
	if c.PepperFromKMS {
		pepperB64, err := a.GetSecret(ctx, "ARGON2_PEPPER")
		if err != nil {
			return nil, errors.Wrap(err, "load pepper from KMS")
		}
		pepper, err = base64.StdEncoding.DecodeString(pepperB64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid pepper format")
		}
	} else {
		pepper = []byte(c.Pepper.Value())
	}
	if len(pepper) < 32 {
		util.Wipe(pepper)
		return nil, errPepperShort
	}
	return pepper, nil
}
func openMeta(ctx context.Context, c *cfg.Cfg) (metaStore, error) {
	if dsn := c.DatabaseURL.Value(); dsn != "" {
		pg, err := db.NewPostgres(ctx, dsn, c.DBMaxOpenConns, c.DBQueryTimeout)
		if err != nil {
			return nil, err
		}
		util.Info().Str("dsn", util.RedactDSN(dsn)).Msg("postgres initialized")
		return pg, nil
	}
	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		return nil, err
	}
	util.Info().Str("path", c.DatabasePath).Msg("sqlite initialized")
	return sqlDB, nil
}
func openBlobs(ctx context.Context, c *cfg.Cfg) (blobBackend, error) {
	if c.ObjectStore.Enabled() {
		s3, err := blob.NewS3(ctx, blob.S3Options{
			Endpoint:  c.ObjectStore.Endpoint,
			AccessKey: c.ObjectStore.AccessKey,
			SecretKey: c.ObjectStore.SecretKey.Value(),
			Bucket:    c.ObjectStore.Bucket,
			Region:    c.ObjectStore.Region,
			UseSSL:    c.ObjectStore.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		util.Info().Str("endpoint", c.ObjectStore.Endpoint).Str("bucket", c.ObjectStore.Bucket).Msg("object storage initialized")
		return s3Backend{s3}, nil
	}
	b, err := blob.OpenBolt(c.BlobPath)
	if err != nil {
		return nil, err
	}
	util.Info().Str("path", c.BlobPath).Msg("bolt blob store initialized")
	return b, nil
}
