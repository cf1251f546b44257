// Command vectorkv-ai runs the AI embedding proxy: it accepts raw text/image
// inputs over the taxonomy in pkg/ai, embeds them through pkg/model, and
// forwards the vector-bearing equivalent to an upstream vectorkv-db over a
// pooled pkg/rpc connection (pkg/dbpool).
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vectorkv/vectorkv/pkg/ai"
	"github.com/vectorkv/vectorkv/pkg/auth"
	"github.com/vectorkv/vectorkv/pkg/cache"
	"github.com/vectorkv/vectorkv/pkg/config"
	"github.com/vectorkv/vectorkv/pkg/dbpool"
	"github.com/vectorkv/vectorkv/pkg/model"
	"github.com/vectorkv/vectorkv/pkg/rpc"
	"github.com/vectorkv/vectorkv/pkg/schema"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg := config.DefaultAI()

	rootCmd := &cobra.Command{
		Use:   "vectorkv-ai",
		Short: "vectorkv-ai - embedding proxy in front of a vectorkv-db host",
		Long: `vectorkv-ai accepts raw text or image inputs, embeds them with a
per-store index/query model pair, and forwards the resulting vectors to an
upstream vectorkv-db over a pooled connection. Run with --without-db to use
it purely as an embedding host with no store forwarding.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vectorkv-ai v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the vectorkv-ai server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg)
		},
	}
	config.BindAIFlags(serveCmd, &cfg)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cfg config.AI) error {
	instanceID := uuid.New().String()
	log.Printf("vectorkv-ai starting instance=%s version=%s host=%s port=%d without_db=%v", instanceID, version, cfg.Host, cfg.Port, cfg.WithoutDB)

	if cfg.ThreadpoolSize > 0 {
		runtime.GOMAXPROCS(cfg.ThreadpoolSize)
	}
	if cfg.EnableTracing {
		log.Printf("vectorkv-ai tracing enabled otel_endpoint=%s", cfg.OTELEndpoint)
	}

	descriptors := filterDescriptors(model.Descriptors(), cfg.SupportedModels)
	models := model.New(descriptors, model.HashBackend{}, cfg.ModelCacheLocation, cfg.AIModelIdleTime)
	defer models.Close()

	embedCache := cache.New(cache.DefaultSize, cfg.AIModelIdleTime)

	pool := dbpool.New(cfg.DBClientPoolSize, dbDialer(cfg))
	defer pool.Close()

	dispatcher := ai.NewDispatcher(ai.NewRegistry(), models, pool)
	dispatcher.Cache = embedCache

	server := ai.NewServer(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), dispatcher)
	server.MaximumClients = cfg.MaximumClients
	server.MessageSize = cfg.MessageSize

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("vectorkv-ai: load TLS keypair: %w", err)
		}
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	dispatcher.Info = func() rpc.ServerInfo {
		return rpc.ServerInfo{
			Address: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Version: version,
			Type:    "ai",
		}
	}

	if cfg.EnableAuth {
		authenticator, err := loadAuthenticator(cfg.AuthConfig)
		if err != nil {
			return fmt.Errorf("vectorkv-ai: load auth config: %w", err)
		}
		authenticator.SetAuditLog(func(e auth.AuditEvent) {
			log.Printf("vectorkv-ai: %s", e.String())
		})
		server.Authenticator = authenticator
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("vectorkv-ai: %w", err)
	}
	log.Printf("vectorkv-ai listening on %s", server.Addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("vectorkv-ai shutting down")
	return server.Stop()
}

// dbDialer returns the dbpool.Dialer used to open forwarding connections to
// the upstream DB host, or one that always fails when --without-db disables
// forwarding entirely.
func dbDialer(cfg config.AI) dbpool.Dialer {
	if cfg.WithoutDB {
		return func(ctx context.Context) (dbpool.Conn, error) {
			return nil, schema.NewError(schema.TagStoreNotFound, "vectorkv-ai is running with --without-db; no store forwarding is available")
		}
	}
	addr := fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort)
	return func(ctx context.Context) (dbpool.Conn, error) {
		return rpc.Dial(addr)
	}
}

// filterDescriptors narrows the full model set down to the --supported-models
// allowlist when one is configured; an empty allowlist keeps every model the
// host knows how to load.
func filterDescriptors(all map[schema.ModelID]schema.ModelDescriptor, supported []string) map[schema.ModelID]schema.ModelDescriptor {
	if len(supported) == 0 {
		return all
	}
	allow := make(map[string]bool, len(supported))
	for _, name := range supported {
		allow[name] = true
	}
	out := make(map[schema.ModelID]schema.ModelDescriptor)
	for id, desc := range all {
		if allow[id.String()] {
			out[id] = desc
		}
	}
	return out
}

func loadAuthenticator(path string) (*auth.Authenticator, error) {
	a := auth.New()
	if path == "" {
		return a, nil
	}
	users, err := config.LoadAuthTable(path)
	if err != nil {
		return nil, err
	}
	a.LoadUsers(users)
	return a, nil
}
