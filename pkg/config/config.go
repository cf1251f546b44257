// Package config binds the CLI flag surface shared by both servers (and the
// AI-only extensions) to typed config structs, via cobra/pflag. Defaults
// are applied in the constructors; flags override them at parse time.
package config

import (
	"time"

	"github.com/spf13/cobra"
)

// DB holds the flags common to both the DB and AI servers.
type DB struct {
	Host string
	Port int

	MaximumClients int
	AllocatorSize  uint64
	ThreadpoolSize int
	MessageSize    uint64

	EnablePersistence               bool
	PersistLocation                 string
	PersistenceInterval             time.Duration
	FailOnStartupIfPersistLoadFails bool

	EnableTracing bool
	OTELEndpoint  string
	LogLevel      string

	EnableAuth bool
	AuthConfig string
	TLSCert    string
	TLSKey     string
}

// AI holds the AI-proxy-only extensions layered on top of DB.
type AI struct {
	DB

	DBHost             string
	DBPort             int
	DBClientPoolSize   int
	WithoutDB          bool
	SupportedModels    []string
	ModelCacheLocation string
	AIModelIdleTime    time.Duration
	EnableStreaming    bool
}

// DefaultDB returns the baseline server defaults.
func DefaultDB() DB {
	return DB{
		Host:                "0.0.0.0",
		Port:                1369,
		MaximumClients:      1000,
		AllocatorSize:       1 << 30, // 1 GiB
		ThreadpoolSize:      8,
		MessageSize:         16 << 20, // 16 MiB
		PersistLocation:     "./vectorkv.snapshot",
		PersistenceInterval: 5 * time.Minute,
		LogLevel:            "info",
	}
}

// DefaultAI returns the AI proxy's baseline defaults, layering its
// extensions on top of a DB-flavoured default with the AI port shifted by
// one so a co-located DB and AI proxy don't collide.
func DefaultAI() AI {
	base := DefaultDB()
	base.Port = 1370
	return AI{
		DB:                 base,
		DBHost:             "127.0.0.1",
		DBPort:             1369,
		DBClientPoolSize:   10,
		ModelCacheLocation: "./model-cache",
		AIModelIdleTime:    10 * time.Minute,
	}
}

// BindDBFlags registers the shared DB/AI flag set on cmd, writing parsed
// values into cfg when the command runs.
func BindDBFlags(cmd *cobra.Command, cfg *DB) {
	f := cmd.Flags()
	f.StringVar(&cfg.Host, "host", cfg.Host, "bind address")
	f.IntVar(&cfg.Port, "port", cfg.Port, "bind port")
	f.IntVar(&cfg.MaximumClients, "maximum-clients", cfg.MaximumClients, "cap on concurrent connections")
	f.Uint64Var(&cfg.AllocatorSize, "allocator-size", cfg.AllocatorSize, "bounded allocator byte cap")
	f.IntVar(&cfg.ThreadpoolSize, "threadpool-size", cfg.ThreadpoolSize, "worker parallelism")
	f.Uint64Var(&cfg.MessageSize, "message-size", cfg.MessageSize, "frame payload cap in bytes")
	f.BoolVar(&cfg.EnablePersistence, "enable-persistence", cfg.EnablePersistence, "enable snapshot persistence")
	f.StringVar(&cfg.PersistLocation, "persist-location", cfg.PersistLocation, "snapshot file path")
	f.DurationVar(&cfg.PersistenceInterval, "persistence-interval", cfg.PersistenceInterval, "snapshot interval")
	f.BoolVar(&cfg.FailOnStartupIfPersistLoadFails, "fail-on-startup-if-persist-load-fails", cfg.FailOnStartupIfPersistLoadFails, "abort startup on bad snapshot")
	f.BoolVar(&cfg.EnableTracing, "enable-tracing", cfg.EnableTracing, "export OpenTelemetry traces")
	f.StringVar(&cfg.OTELEndpoint, "otel-endpoint", cfg.OTELEndpoint, "OTLP collector endpoint")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log verbosity")
	f.BoolVar(&cfg.EnableAuth, "enable-auth", cfg.EnableAuth, "require bearer-token auth")
	f.StringVar(&cfg.AuthConfig, "auth-config", cfg.AuthConfig, "path to the user/api-key table")
	f.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS certificate path")
	f.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS key path")
}

// BindAIFlags registers the AI-only extensions on top of the shared set.
func BindAIFlags(cmd *cobra.Command, cfg *AI) {
	BindDBFlags(cmd, &cfg.DB)
	f := cmd.Flags()
	f.StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "upstream DB host")
	f.IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "upstream DB port")
	f.IntVar(&cfg.DBClientPoolSize, "db-client-pool-size", cfg.DBClientPoolSize, "pooled DB connections")
	f.BoolVar(&cfg.WithoutDB, "without-db", cfg.WithoutDB, "run without forwarding to a DB (embedding-only mode)")
	f.StringSliceVar(&cfg.SupportedModels, "supported-models", cfg.SupportedModels, "model identifiers this host may load")
	f.StringVar(&cfg.ModelCacheLocation, "model-cache-location", cfg.ModelCacheLocation, "on-disk model artifact cache directory")
	f.DurationVar(&cfg.AIModelIdleTime, "ai-model-idle-time", cfg.AIModelIdleTime, "idle duration before a loaded model is evicted")
	f.BoolVar(&cfg.EnableStreaming, "enable-streaming", cfg.EnableStreaming, "stream inference results incrementally")
}
