package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validCfg(t *testing.T) *Cfg {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("PEPPER", "0123456789ABCDEF0123456789ABCDEF")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func TestLoadDefaults(t *testing.T) {
	c := validCfg(t)
	if c.Port != "5000" {
		t.Errorf("Port = %q, want 5000", c.Port)
	}
	if c.DatabasePath != "sharebin.db" {
		t.Errorf("DatabasePath = %q", c.DatabasePath)
	}
	if c.ObjectStore.Enabled() {
		t.Errorf("object store should be disabled without S3_ENDPOINT")
	}
	if c.ViewBaseURL != "http://localhost:5000/api/pastes" {
		t.Errorf("ViewBaseURL = %q", c.ViewBaseURL)
	}
	if c.MaxExpiry != 30*24*time.Hour {
		t.Errorf("MaxExpiry = %v", c.MaxExpiry)
	}
	if err := Validate(c); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	os.Unsetenv("S3_BUCKET")
	t.Cleanup(func() { os.Unsetenv("S3_BUCKET") })
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("S3_BUCKET=from-env-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("PEPPER", "0123456789ABCDEF0123456789ABCDEF")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ObjectStore.Bucket != "from-env-file" {
		t.Errorf("Bucket = %q, want value from env file", c.ObjectStore.Bucket)
	}
}

func TestLoadTrimsBaseURLs(t *testing.T) {
	t.Setenv("VIEW_BASE_URL", "https://share.example.com/p/")
	c := validCfg(t)
	if c.ViewBaseURL != "https://share.example.com/p" {
		t.Errorf("ViewBaseURL = %q", c.ViewBaseURL)
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("MAX_UPLOAD_SIZE", "lots")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric MAX_UPLOAD_SIZE")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Cfg)
		want   string
	}{
		{"port", func(c *Cfg) { c.Port = "http" }, "PORT"},
		{"postgres scheme", func(c *Cfg) { c.DatabaseURL = NewSecret("mysql://x") }, "DATABASE_URL"},
		{"db outside workdir", func(c *Cfg) { c.DatabasePath = "/tmp/elsewhere.db" }, "DATABASE_PATH"},
		{"s3 creds", func(c *Cfg) { c.ObjectStore.Endpoint = "minio:9000" }, "S3_ACCESS_KEY"},
		{"s3 scheme", func(c *Cfg) {
			c.ObjectStore = ObjectStoreCfg{Endpoint: "http://minio:9000", AccessKey: "a", SecretKey: NewSecret("b"), Bucket: "p"}
		}, "S3_ENDPOINT"},
		{"view url", func(c *Cfg) { c.ViewBaseURL = "/relative" }, "VIEW_BASE_URL"},
		{"upload cap", func(c *Cfg) { c.MaxUploadSize = 0 }, "MAX_UPLOAD_SIZE"},
		{"short pepper", func(c *Cfg) { c.Pepper = NewSecret("short") }, "PEPPER"},
		{"argon time", func(c *Cfg) { c.Argon2Time = 1 }, "ARGON2_TIME"},
		{"kek ttl", func(c *Cfg) { c.KEKCacheTTL = 2 * time.Hour }, "KEK_CACHE_TTL"},
		{"proxy", func(c *Cfg) { c.TrustedProxies = []string{"not-an-ip"} }, "TRUSTED_PROXIES"},
		{"production metrics", func(c *Cfg) { c.Environment = "production" }, "METRICS_USER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCfg(t)
			tt.mutate(c)
			err := Validate(c)
			if err == nil {
				t.Fatalf("expected validation error mentioning %s", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestSecretRedacted(t *testing.T) {
	s := NewSecret("hunter2")
	if s.String() == "hunter2" {
		t.Fatal("secret printed in clear")
	}
	s.Wipe()
	if s.Value() == "hunter2" {
		t.Fatal("secret not wiped")
	}
}
