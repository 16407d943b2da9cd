package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 48*time.Hour, cfg.OfferWindow)
	assert.Zero(t, cfg.CompletionWindow)
	assert.Equal(t, time.Minute, cfg.RetryDelay)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "civicroute.assignments", cfg.NATSSubject)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 100, cfg.RedisInboxSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "civicroute.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
addr: ":9000"
store: sqlite
database: /var/lib/civicroute.db
offer_window: 24h
mongo:
  database: from-file
`), 0o644))

	t.Setenv("CIVICROUTE_OFFER_WINDOW", "12h")
	t.Setenv("CIVICROUTE_MONGO_DATABASE", "from-env")

	cfg, err := Load(file, nil)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "/var/lib/civicroute.db", cfg.Database)
	assert.Equal(t, 12*time.Hour, cfg.OfferWindow)
	assert.Equal(t, "from-env", cfg.MongoDatabase)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("CIVICROUTE_ADDR", ":7000")
	t.Setenv("CIVICROUTE_COMPLETION_WINDOW", "1h")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--addr", ":6000", "--nats-url", "nats://localhost:4222"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)

	assert.Equal(t, ":6000", cfg.Addr)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	// Unset flags do not shadow the environment.
	assert.Equal(t, time.Hour, cfg.CompletionWindow)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Addr:          ":8080",
			Store:         StoreMemory,
			Database:      "civicroute.db",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "civicroute",
			OfferWindow:   time.Hour,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"zero offer window", func(c *Config) { c.OfferWindow = 0 }, "offer_window must be positive"},
		{"negative completion", func(c *Config) { c.CompletionWindow = -time.Second }, "completion_window"},
		{"unknown store", func(c *Config) { c.Store = "etcd" }, `unknown store "etcd"`},
		{"sqlite without path", func(c *Config) { c.Store = StoreSQLite; c.Database = "" }, "database is required"},
		{"postgres without dsn", func(c *Config) { c.Store = StorePostgres }, "postgres:// DSN"},
		{"postgres ok", func(c *Config) {
			c.Store = StorePostgres
			c.Database = "postgres://u:p@localhost/civicroute"
		}, ""},
		{"mongo without uri", func(c *Config) { c.Store = StoreMongo; c.MongoURI = "" }, "mongo.uri"},
		{"empty addr", func(c *Config) { c.Addr = "" }, "addr is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	err := (&Config{Store: "bogus", RetryDelay: -time.Second}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_delay must not be negative")
	assert.Contains(t, err.Error(), "addr is required")
	assert.Contains(t, err.Error(), "offer_window")
	assert.Contains(t, err.Error(), "unknown store")
}

func TestFlagName(t *testing.T) {
	assert.Equal(t, "mongo-uri", FlagName("mongo.uri"))
	assert.Equal(t, "offer-window", FlagName("offer_window"))
	assert.True(t, IsValidStore("postgres"))
	assert.False(t, IsValidStore("etcd"))
}

func TestLoad_CORSOrigins(t *testing.T) {
	t.Setenv("CIVICROUTE_CORS_ORIGINS", "https://city.example, ,http://localhost:3000")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://city.example", "http://localhost:3000"}, cfg.CORSOrigins)

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--cors-origins="}))
	cfg, err = Load("", fs)
	require.NoError(t, err)
	assert.Empty(t, cfg.CORSOrigins, "an explicit blank disables CORS")
}
