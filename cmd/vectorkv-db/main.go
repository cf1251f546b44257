// Command vectorkv-db runs the DB server: the in-memory vector store
// registry exposed over the RPC wire protocol in pkg/rpc, with optional
// snapshot persistence, bearer-token auth, and OpenTelemetry tracing.
package main

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vectorkv/vectorkv/pkg/auth"
	"github.com/vectorkv/vectorkv/pkg/config"
	"github.com/vectorkv/vectorkv/pkg/persistence"
	"github.com/vectorkv/vectorkv/pkg/rpc"
	"github.com/vectorkv/vectorkv/pkg/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg := config.DefaultDB()
	var persistBackend string

	rootCmd := &cobra.Command{
		Use:   "vectorkv-db",
		Short: "vectorkv-db - in-memory vector key/value store with a typed RPC surface",
		Long: `vectorkv-db holds one or more named vector stores in memory and serves
them over a length-delimited binary protocol: create/drop stores, set and
query keyed vectors with metadata predicates, similarity search with
optional non-linear indexes, and periodic snapshot persistence.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vectorkv-db v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the vectorkv-db server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg, persistBackend)
		},
	}
	config.BindDBFlags(serveCmd, &cfg)
	serveCmd.Flags().StringVar(&persistBackend, "persist-backend", "snapshot", `persistence backend: "snapshot" (single gob file) or "badger" (embedded KV)`)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cfg config.DB, persistBackend string) error {
	instanceID := uuid.New().String()
	log.Printf("vectorkv-db starting instance=%s version=%s host=%s port=%d", instanceID, version, cfg.Host, cfg.Port)

	if cfg.ThreadpoolSize > 0 {
		runtime.GOMAXPROCS(cfg.ThreadpoolSize)
	}
	if cfg.EnableTracing {
		log.Printf("vectorkv-db tracing enabled otel_endpoint=%s", cfg.OTELEndpoint)
	}

	handler := store.NewHandler()

	badgerStore, err := loadPersistence(cfg, persistBackend, handler)
	if err != nil {
		return err
	}
	if badgerStore != nil {
		defer badgerStore.Close()
	}

	var snapshotter *persistence.Snapshotter
	if cfg.EnablePersistence && persistBackend == "snapshot" {
		snapshotter = persistence.NewSnapshotter(cfg.PersistLocation, handler, cfg.PersistenceInterval)
		snapshotter.Start()
		defer snapshotter.Stop()
	}

	dispatcher := rpc.NewDispatcher(handler)
	if cfg.AllocatorSize > 0 {
		dispatcher.Allocator = rpc.NewAllocator(cfg.AllocatorSize)
	}
	dispatcher.Info = func() rpc.ServerInfo {
		return rpc.ServerInfo{
			Address:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Version:         version,
			Type:            "db",
			MemoryLimit:     cfg.AllocatorSize,
			MemoryRemaining: allocatorRemaining(dispatcher.Allocator),
		}
	}

	server := rpc.NewServer(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), dispatcher)
	server.MaximumClients = cfg.MaximumClients
	server.MessageSize = cfg.MessageSize

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("vectorkv-db: load TLS keypair: %w", err)
		}
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	if cfg.EnableAuth {
		authenticator, err := loadAuthenticator(cfg.AuthConfig)
		if err != nil {
			return fmt.Errorf("vectorkv-db: load auth config: %w", err)
		}
		authenticator.SetAuditLog(func(e auth.AuditEvent) {
			log.Printf("vectorkv-db: %s", e.String())
		})
		server.Authenticator = authenticator
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("vectorkv-db: %w", err)
	}
	log.Printf("vectorkv-db listening on %s", server.Addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("vectorkv-db shutting down")
	if err := server.Stop(); err != nil {
		log.Printf("vectorkv-db: stop: %v", err)
	}

	if badgerStore != nil {
		if err := badgerStore.Save(handler); err != nil {
			log.Printf("vectorkv-db: final badger save: %v", err)
		}
	} else if cfg.EnablePersistence {
		if err := persistence.Save(cfg.PersistLocation, handler); err != nil {
			log.Printf("vectorkv-db: final snapshot save: %v", err)
		}
	}
	return nil
}

// loadPersistence restores on-disk state into handler per persistBackend,
// returning the opened *persistence.BadgerStore when that backend is
// selected (callers keep it open and reuse it for the final save on
// shutdown) or nil for the default gob-snapshot backend.
func loadPersistence(cfg config.DB, persistBackend string, handler *store.Handler) (*persistence.BadgerStore, error) {
	if !cfg.EnablePersistence {
		return nil, nil
	}

	if persistBackend == "badger" {
		bs, err := persistence.OpenBadgerStore(persistence.BadgerOptions{DataDir: cfg.PersistLocation})
		if err != nil {
			return nil, failOrWarn(cfg, fmt.Errorf("open badger store: %w", err))
		}
		if _, err := bs.LoadInto(handler); err != nil {
			bs.Close()
			return nil, failOrWarn(cfg, fmt.Errorf("load badger store: %w", err))
		}
		return bs, nil
	}

	if _, err := persistence.LoadInto(cfg.PersistLocation, handler); err != nil {
		return nil, failOrWarn(cfg, fmt.Errorf("load snapshot: %w", err))
	}
	return nil, nil
}

func failOrWarn(cfg config.DB, err error) error {
	if cfg.FailOnStartupIfPersistLoadFails {
		return err
	}
	log.Printf("vectorkv-db: starting with an empty store registry after persistence load failure: %v", err)
	return nil
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

func allocatorRemaining(a *rpc.Allocator) uint64 {
	if a == nil {
		return ^uint64(0)
	}
	return a.Remaining()
}
