// Package config loads civicroute settings.
//
// Values are merged with precedence: flags > env > config file > defaults.
// Environment variables use the CIVICROUTE_ prefix with dots and dashes
// replaced by underscores (mongo.uri -> CIVICROUTE_MONGO_URI).
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/civicroute/internal/store"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "CIVICROUTE"

// StoreKind selects the ledger backend.
type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreSQLite   StoreKind = "sqlite"
	StorePostgres StoreKind = "postgres"
	StoreMongo    StoreKind = "mongo"
)

// StoreKinds lists the accepted values of the store key.
var StoreKinds = []StoreKind{StoreMemory, StoreSQLite, StorePostgres, StoreMongo}

// Key describes one setting.
type Key struct {
	Name    string
	Default any
	Desc    string
}

// Keys defines every setting. They are loaded with support for:
//   - Config files: addr, mongo.uri, etc.
//   - Environment variables: CIVICROUTE_ADDR, CIVICROUTE_MONGO_URI, etc.
//   - Command-line flags: --addr, --mongo-uri, etc.
var Keys = []Key{
	{Name: "addr", Default: ":8080", Desc: "HTTP listen address"},
	{Name: "environment", Default: "development", Desc: "Deployment environment reported by /health"},

	// Ledger backend
	{Name: "store", Default: string(StoreMemory), Desc: "Ledger backend: memory, sqlite, postgres or mongo"},
	{Name: "database", Default: "civicroute.db", Desc: "SQLite path or Postgres DSN (postgres://...)"},
	{Name: "mongo.uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo.database", Default: "civicroute", Desc: "MongoDB database name"},

	// Escalation timing
	{Name: "offer_window", Default: 48 * time.Hour, Desc: "How long each NGO has to accept an offer (e.g. 48h, 90m)"},
	{Name: "completion_window", Default: time.Duration(0), Desc: "Time an assigned NGO has to complete before an overdue notice (0 disables)"},
	{Name: "retry_delay", Default: time.Minute, Desc: "Delay before retrying an offer the ledger failed to open"},

	// HTTP
	{Name: "cors.origins", Default: "*", Desc: "Comma-separated origins allowed by CORS (* for any, blank disables)"},

	// Notification sinks (blank disables)
	{Name: "nats.url", Default: "", Desc: "NATS server URL for assignment events"},
	{Name: "nats.subject", Default: "civicroute.assignments", Desc: "NATS subject prefix"},
	{Name: "redis.addr", Default: "", Desc: "Redis address for per-NGO inboxes"},
	{Name: "redis.inbox_size", Default: 100, Desc: "Entries kept per Redis inbox"},
}

// Config is the resolved configuration.
type Config struct {
	Addr        string
	Environment string

	Store         StoreKind
	Database      string
	MongoURI      string
	MongoDatabase string

	OfferWindow      time.Duration
	CompletionWindow time.Duration
	RetryDelay       time.Duration

	CORSOrigins []string

	NATSURL        string
	NATSSubject    string
	RedisAddr      string
	RedisInboxSize int
}

// FlagName returns the command-line flag for a key.
func FlagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

// RegisterFlags adds one flag per key to fs. Flag defaults mirror Keys so
// help output is accurate; viper only honours a flag when it was set.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, k := range Keys {
		name := FlagName(k.Name)
		if fs.Lookup(name) != nil {
			continue
		}
		switch d := k.Default.(type) {
		case string:
			fs.String(name, d, k.Desc)
		case int:
			fs.Int(name, d, k.Desc)
		case bool:
			fs.Bool(name, d, k.Desc)
		case time.Duration:
			fs.Duration(name, d, k.Desc)
		default:
			panic(fmt.Sprintf("config: unsupported default type %T for %s", d, k.Name))
		}
	}
}

// Load merges defaults, the optional config file, environment and fs.
// fs may be nil; file may be empty.
func Load(file string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for _, k := range Keys {
		v.SetDefault(k.Name, k.Default)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	if fs != nil {
		for _, k := range Keys {
			if f := fs.Lookup(FlagName(k.Name)); f != nil {
				if err := v.BindPFlag(k.Name, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	cfg := &Config{
		Addr:        v.GetString("addr"),
		Environment: v.GetString("environment"),

		Store:         StoreKind(strings.ToLower(v.GetString("store"))),
		Database:      v.GetString("database"),
		MongoURI:      v.GetString("mongo.uri"),
		MongoDatabase: v.GetString("mongo.database"),

		OfferWindow:      v.GetDuration("offer_window"),
		CompletionWindow: v.GetDuration("completion_window"),
		RetryDelay:       v.GetDuration("retry_delay"),

		CORSOrigins: splitList(v.GetString("cors.origins")),

		NATSURL:        v.GetString("nats.url"),
		NATSSubject:    v.GetString("nats.subject"),
		RedisAddr:      v.GetString("redis.addr"),
		RedisInboxSize: v.GetInt("redis.inbox_size"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.OfferWindow <= 0 {
		errs = append(errs, fmt.Errorf("offer_window must be positive, got %s", c.OfferWindow))
	}
	if c.CompletionWindow < 0 {
		errs = append(errs, fmt.Errorf("completion_window must not be negative, got %s", c.CompletionWindow))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retry_delay must not be negative, got %s", c.RetryDelay))
	}
	if c.RedisInboxSize < 0 {
		errs = append(errs, fmt.Errorf("redis.inbox_size must not be negative, got %d", c.RedisInboxSize))
	}

	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.Database == "" {
			errs = append(errs, errors.New("database is required for the sqlite store"))
		} else if store.DialectFor(c.Database) != store.DialectSQLite {
			errs = append(errs, errors.New("database is a postgres DSN but store is sqlite"))
		}
	case StorePostgres:
		if store.DialectFor(c.Database) != store.DialectPostgres {
			errs = append(errs, errors.New("database must be a postgres:// DSN for the postgres store"))
		}
	case StoreMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			errs = append(errs, errors.New("mongo.uri and mongo.database are required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q: must be one of %v", c.Store, StoreKinds))
	}

	return errors.Join(errs...)
}

// splitList parses a comma-separated setting, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsValidStore reports whether s names a known backend.
func IsValidStore(s string) bool {
	return slices.Contains(StoreKinds, StoreKind(s))
}
