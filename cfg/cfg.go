package cfg

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port               string
	Environment        string
	LogLevel           string
	DatabaseURL        Secret
	DatabasePath       string
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBQueryTimeout     time.Duration
	ObjectStore        ObjectStoreCfg
	BlobPath           string
	ViewBaseURL        string
	DownloadBaseURL    string
	MaxUploadSize      int64
	MaxExpiry          time.Duration
	RedisURL           string
	RedisTLS           bool
	RedisUsername      string
	RedisPassword      Secret
	RedisTimeout       time.Duration
	LRUCacheSize       int
	BlobCacheMaxItem   int
	BlobCacheTTL       time.Duration
	Argon2Time         uint32
	Argon2Memory       uint32
	Argon2Parallelism  uint8
	HasherWorkerCount  int
	Pepper             Secret
	PepperFromKMS      bool
	EncryptBlobs       bool
	KMS                KMSCfg
	KEKCacheTTL        time.Duration
	CleanupInterval    time.Duration
	ExpiredRetention   time.Duration
	EnforceDeleteOwner bool
	ContextTimeout     time.Duration
	AllowedOrigins     []string
	TrustedProxies     []string
	MetricsUser        string
	MetricsPass        Secret
}

type ObjectStoreCfg struct {
	Endpoint  string
	AccessKey string
	SecretKey Secret
	Bucket    string
	Region    string
	UseSSL    bool
}

// Enabled reports whether an S3-compatible endpoint is configured.
func (o ObjectStoreCfg) Enabled() bool {
	return o.Endpoint != ""
}

type KMSCfg struct {
	RequirePrimary  bool
	FailClosed      bool
	LocalKey        Secret
	VaultAddr       string
	VaultToken      Secret
	VaultTokenFile  string
	VaultMountPath  string
	VaultKeyID      string
	VaultSecretPath string
	AWSRegion       string
	AWSKeyID        string
}

func Load() (*Cfg, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrapf(err, "load %s", envFile)
	}
	c := &Cfg{}
	var err error
	c.Port = getEnv("PORT", "5000")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabaseURL = NewSecret(getEnv("DATABASE_URL", ""))
	c.DatabasePath = getEnv("DATABASE_PATH", "sharebin.db")
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 100)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	c.ObjectStore = ObjectStoreCfg{
		Endpoint:  getEnv("S3_ENDPOINT", ""),
		AccessKey: getEnv("S3_ACCESS_KEY", ""),
		SecretKey: NewSecret(getEnv("S3_SECRET_KEY", "")),
		Bucket:    getEnv("S3_BUCKET", "pastes"),
		Region:    getEnv("S3_REGION", ""),
		UseSSL:    getEnv("S3_USE_SSL", "false") == "true",
	}
	c.BlobPath = getEnv("BLOB_PATH", "blobs.db")
	c.ViewBaseURL = strings.TrimRight(getEnv("VIEW_BASE_URL", "http://localhost:5000/api/pastes"), "/")
	c.DownloadBaseURL = strings.TrimRight(getEnv("DOWNLOAD_BASE_URL", "http://localhost:5000/api/pastes"), "/")
	c.MaxUploadSize, err = getInt64("MAX_UPLOAD_SIZE", 10*1024*1024)
	if err != nil {
		return nil, err
	}
	c.MaxExpiry, err = getDuration("MAX_EXPIRY", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}

	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 256)
	if err != nil {
		return nil, err
	}
	c.BlobCacheMaxItem, err = getInt("BLOB_CACHE_MAX_ITEM", 1024*1024)
	if err != nil {
		return nil, err
	}
	c.BlobCacheTTL, err = getDuration("BLOB_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	c.Argon2Time, err = getUint32("ARGON2_TIME", 4)
	if err != nil {
		return nil, err
	}
	c.Argon2Memory, err = getUint32("ARGON2_MEMORY", 128*1024)
	if err != nil {
		return nil, err
	}
	p, err := getUint32("ARGON2_PARALLELISM", 2)
	if err != nil {
		return nil, err
	}
	if p > 255 {
		return nil, errors.New("ARGON2_PARALLELISM must be <= 255")
	}
	c.Argon2Parallelism = uint8(p)
	c.HasherWorkerCount, err = getInt("HASHER_WORKER_COUNT", 4)
	if err != nil {
		return nil, err
	}
	c.Pepper = NewSecret(getEnv("PEPPER", ""))
	c.PepperFromKMS = getEnv("PEPPER_FROM_KMS", "false") == "true"
	c.EncryptBlobs = getEnv("ENCRYPT_BLOBS", "false") == "true"
	c.KMS = KMSCfg{
		RequirePrimary:  strings.ToLower(getEnv("KMS_REQUIRE_PRIMARY", "false")) == "true",
		FailClosed:      getEnv("KMS_FAIL_CLOSED", "true") != "false",
		LocalKey:        NewSecret(getEnv("KMS_LOCAL_KEY", "")),
		VaultAddr:       getEnv("VAULT_ADDR", ""),
		VaultToken:      NewSecret(getEnv("VAULT_TOKEN", "")),
		VaultTokenFile:  getEnv("VAULT_TOKEN_FILE", ""),
		VaultMountPath:  getEnv("VAULT_MOUNT_PATH", "transit"),
		VaultKeyID:      getEnv("VAULT_KEY_ID", "sharebin-master"),
		VaultSecretPath: getEnv("VAULT_SECRET_PATH", "secret/data/sharebin"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		AWSKeyID:        getEnv("KMS_MASTER_KEY_ID", "alias/sharebin-master"),
	}
	c.KEKCacheTTL, err = getDuration("KEK_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	c.CleanupInterval, err = getDuration("CLEANUP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	c.ExpiredRetention, err = getDuration("EXPIRED_RETENTION", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	c.EnforceDeleteOwner = getEnv("ENFORCE_DELETE_OWNER", "false") == "true"
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}

	if dsn := c.DatabaseURL.Value(); dsn != "" {
		if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
			return errors.New("DATABASE_URL must start with postgres:// or postgresql://")
		}
	} else {
		if c.DatabasePath == "" {
			return errors.New("DATABASE_PATH is required when DATABASE_URL is empty")
		}
		if err := withinWorkDir("DATABASE_PATH", c.DatabasePath); err != nil {
			return err
		}
	}
	if c.ObjectStore.Enabled() {
		if c.ObjectStore.AccessKey == "" || c.ObjectStore.SecretKey.Value() == "" {
			return errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set")
		}
		if c.ObjectStore.Bucket == "" {
			return errors.New("S3_BUCKET is required when S3_ENDPOINT is set")
		}
		if strings.Contains(c.ObjectStore.Endpoint, "://") {
			return errors.New("S3_ENDPOINT must be host[:port] without scheme, use S3_USE_SSL for https")
		}
	} else {
		if c.BlobPath == "" {
			return errors.New("BLOB_PATH is required when S3_ENDPOINT is empty")
		}
		if err := withinWorkDir("BLOB_PATH", c.BlobPath); err != nil {
			return err
		}
	}
	for key, base := range map[string]string{"VIEW_BASE_URL": c.ViewBaseURL, "DOWNLOAD_BASE_URL": c.DownloadBaseURL} {
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", key)
		}
	}

	if c.MaxUploadSize <= 0 {
		return errors.New("MAX_UPLOAD_SIZE must be positive")
	}
	if c.MaxUploadSize > 100*1024*1024 {
		return errors.New("MAX_UPLOAD_SIZE cannot exceed 100MB")
	}
	if c.MaxExpiry < time.Minute {
		return errors.New("MAX_EXPIRY must be at least 1 minute")
	}

	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.BlobCacheMaxItem < 0 {
		return errors.New("BLOB_CACHE_MAX_ITEM must not be negative")
	}

	if c.Argon2Time < 4 {
		return errors.New("ARGON2_TIME must be >= 4")
	}
	if c.Argon2Memory < 64*1024 {
		return errors.New("ARGON2_MEMORY must be >= 65536 (64MB)")
	}
	if c.Argon2Parallelism < 1 {
		return errors.New("ARGON2_PARALLELISM must be at least 1")
	}
	if !c.PepperFromKMS {
		if len(c.Pepper.Value()) == 0 {
			return errors.New("PEPPER is required if PEPPER_FROM_KMS is false")
		}
		if len(c.Pepper.Value()) < 32 {
			return errors.New("PEPPER must be at least 32 bytes")
		}
	}
	if c.KEKCacheTTL < 1*time.Minute {
		return errors.New("KEK_CACHE_TTL must be at least 1 minute")
	}
	if c.KEKCacheTTL > 1*time.Hour {
		return errors.New("KEK_CACHE_TTL should not exceed 1 hour (security risk)")
	}

	if c.CleanupInterval < 10*time.Second {
		return errors.New("CLEANUP_INTERVAL must be at least 10s")
	}
	if c.ExpiredRetention < 0 {
		return errors.New("EXPIRED_RETENTION must not be negative")
	}
	if c.ContextTimeout <= 0 {
		return errors.New("CONTEXT_TIMEOUT must be positive")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else if net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
		}
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.DatabaseURL.Wipe()
	c.ObjectStore.SecretKey.Wipe()
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.Pepper.Wipe()
	c.KMS.LocalKey.Wipe()
	c.KMS.VaultToken.Wipe()
}
func withinWorkDir(key, path string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if !strings.HasPrefix(absPath, absWorkDir+string(filepath.Separator)) && absPath != absWorkDir {
		return fmt.Errorf("%s must be within working directory %s", key, absWorkDir)
	}
	return nil
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getUint32(key string, fallback uint32) (uint32, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid uint32 for %s: %w", key, err)
	}
	return uint32(v), nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
