// Package main provides the quadstore CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/orneryd/quadstore/pkg/config"
	"github.com/orneryd/quadstore/pkg/persist"
	"github.com/orneryd/quadstore/pkg/rdf"
	"github.com/orneryd/quadstore/pkg/sail"
	"github.com/orneryd/quadstore/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quadstore",
		Short: "quadstore - in-memory MVCC RDF quad store",
		Long: `quadstore keeps RDF quads in memory with snapshot isolation and
persists committed contents to BadgerDB.

Features:
  • Multi-version statements: readers never block the writer
  • Explicit and inferred statements with transactional upgrades
  • Named graphs and namespace prefixes
  • N-Quads import and export`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quadstore v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a data directory with a default config file",
		RunE:  runInit,
	}
	rootCmd.AddCommand(initCmd)

	loadCmd := &cobra.Command{
		Use:   "load [file.nq...]",
		Short: "Load N-Quads files in one transaction",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLoad,
	}
	loadCmd.Flags().String("graph", "", "Graph for statements without one")
	rootCmd.AddCommand(loadCmd)

	matchCmd := &cobra.Command{
		Use:   "match",
		Short: "Print statements matching a pattern as N-Quads",
		RunE:  runMatch,
	}
	addPatternFlags(matchCmd)
	matchCmd.Flags().Bool("inferred", false, "Include inferred statements")
	matchCmd.Flags().Int64("snapshot", sail.Latest, "Snapshot to read (negative for the latest)")
	rootCmd.AddCommand(matchCmd)

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove explicit statements matching a pattern",
		RunE:  runRemove,
	}
	addPatternFlags(removeCmd)
	rootCmd.AddCommand(removeCmd)

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Write all explicit statements as N-Quads",
		RunE:  runDump,
	}
	dumpCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	rootCmd.AddCommand(dumpCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print store statistics as JSON",
		RunE:  runStats,
	})

	nsCmd := &cobra.Command{
		Use:   "ns",
		Short: "Namespace prefix operations",
	}
	nsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List namespace prefixes",
		RunE:  runNamespaceList,
	})
	nsCmd.AddCommand(&cobra.Command{
		Use:   "set [prefix] [namespace]",
		Short: "Bind a prefix to a namespace",
		Args:  cobra.ExactArgs(2),
		RunE:  runNamespaceSet,
	})
	nsCmd.AddCommand(&cobra.Command{
		Use:   "remove [prefix]",
		Short: "Remove a prefix binding",
		Args:  cobra.ExactArgs(1),
		RunE:  runNamespaceRemove,
	})
	rootCmd.AddCommand(nsCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "compact",
		Short: "Run BadgerDB value-log garbage collection on the data directory",
		RunE:  runCompact,
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Hold the store open and expose Prometheus metrics",
		RunE:  runServe,
	}
	serveCmd.Flags().String("metrics-addr", ":9464", "Metrics listen address")
	rootCmd.AddCommand(serveCmd)

	return rootCmd
}

func addPatternFlags(cmd *cobra.Command) {
	cmd.Flags().String("subject", "", "Subject term in N-Triples syntax")
	cmd.Flags().String("predicate", "", "Predicate IRI in N-Triples syntax")
	cmd.Flags().String("object", "", "Object term in N-Triples syntax")
	cmd.Flags().StringSlice("graph", nil, `Graph IRIs; "default" selects the default graph`)
}

// patternFromFlags builds a pattern from the flags added by addPatternFlags.
func patternFromFlags(cmd *cobra.Command) (rdf.Pattern, error) {
	var p rdf.Pattern
	if s, _ := cmd.Flags().GetString("subject"); s != "" {
		v, err := rdf.ParseResource(s)
		if err != nil {
			return p, fmt.Errorf("subject: %w", err)
		}
		p.Subject = v
	}
	if s, _ := cmd.Flags().GetString("predicate"); s != "" {
		v, err := rdf.ParseIRI(s)
		if err != nil {
			return p, fmt.Errorf("predicate: %w", err)
		}
		p.Predicate = v
	}
	if s, _ := cmd.Flags().GetString("object"); s != "" {
		v, err := rdf.ParseTerm(s)
		if err != nil {
			return p, fmt.Errorf("object: %w", err)
		}
		p.Object = v
	}
	graphs, _ := cmd.Flags().GetStringSlice("graph")
	for _, g := range graphs {
		r, err := parseGraph(g)
		if err != nil {
			return p, err
		}
		p.Contexts = append(p.Contexts, r)
	}
	return p, nil
}

func parseGraph(s string) (rdf.Resource, error) {
	if s == "" || s == "default" {
		return nil, nil
	}
	r, err := rdf.ParseResource(s)
	if err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	return r, nil
}

// loadConfig resolves the configuration and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Persistence.DataDir = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens and initializes the configured store. readOnly opens an
// existing data directory shared, so several read commands can run side by
// side.
func openStore(cmd *cobra.Command, readOnly bool, reg prometheus.Registerer) (*storage.MemoryStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if readOnly && cfg.Persistence.Enabled && hasDatabase(cfg.Persistence.DataDir) {
		cfg.Persistence.ReadOnly = true
	}
	cfg.Memory.ApplyRuntimeMemory()
	logger := cfg.Logging.NewLogger(cmd.ErrOrStderr())

	store, err := cfg.OpenStore(logger, reg)
	if err != nil {
		if errors.Is(err, persist.ErrLocked) {
			return nil, fmt.Errorf("%w (is another quadstore writing to %s?)", err, cfg.Persistence.DataDir)
		}
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := store.Initialize(cmd.Context()); err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return store, nil
}

// hasDatabase reports whether dir already holds a BadgerDB database. Badger
// refuses to open a read-only database without a manifest.
func hasDatabase(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "MANIFEST"))
	return err == nil
}

func shutdown(store *storage.MemoryStore) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return store.Shutdown(ctx)
}

// withConnection opens the store, runs fn on a fresh connection and shuts
// the store down again.
func withConnection(cmd *cobra.Command, readOnly bool, fn func(ctx context.Context, conn sail.Connection) error) (err error) {
	store, err := openStore(cmd, readOnly, nil)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, shutdown(store))
	}()
	conn, err := store.Connection()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(cmd.Context(), conn)
}

// inTransaction runs fn in a transaction, rolling back when it fails.
func inTransaction(ctx context.Context, conn sail.Connection, fn func() error) error {
	if err := conn.Begin(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if rbErr := conn.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return conn.Commit(ctx)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dataDir := cfg.Persistence.DataDir
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📂 Initializing quadstore in %s\n", dataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dataDir, "quadstore.yaml")
	configContent := fmt.Sprintf(`# quadstore configuration
store:
  sync_delay: 0s          # 0 = every commit, >0 = batch window, <0 = shutdown only
  auto_cleanup: true
  cleanup_min_interval: 100ms
  shutdown_grace: 20s
  size_cache: 256         # cached Size results, 0 disables

persistence:
  enabled: true
  data_dir: %s
  sync_writes: false
  low_memory: false

memory:
  limit: unlimited
  gc_percent: 100

logging:
  level: INFO
  format: text

metrics:
  enabled: true
`, dataDir)
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintln(out, "✅ Data directory initialized")
	fmt.Fprintf(out, "   Config: %s\n", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Load data:  quadstore load data.nq --config %s\n", configPath)
	fmt.Fprintf(out, "  2. Query:      quadstore match --predicate '<http://xmlns.com/foaf/0.1/knows>' --config %s\n", configPath)
	return nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	graphFlag, _ := cmd.Flags().GetString("graph")
	graph, err := parseGraph(graphFlag)
	if err != nil {
		return err
	}
	return withConnection(cmd, false, func(ctx context.Context, conn sail.Connection) error {
		start := time.Now()
		total := 0
		err := inTransaction(ctx, conn, func() error {
			for _, path := range args {
				n, err := storage.LoadNQuadsFile(ctx, conn, path, graph)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "📥 %s: %d new statements\n", path, n)
				total += n
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Loaded %d statements in %v (snapshot %d)\n",
			total, time.Since(start).Round(time.Millisecond), conn.CurrentSnapshot())
		return nil
	})
}

func runMatch(cmd *cobra.Command, args []string) error {
	p, err := patternFromFlags(cmd)
	if err != nil {
		return err
	}
	inferred, _ := cmd.Flags().GetBool("inferred")
	snapshot, _ := cmd.Flags().GetInt64("snapshot")
	return withConnection(cmd, true, func(ctx context.Context, conn sail.Connection) error {
		_, err := storage.DumpNQuads(ctx, conn, cmd.OutOrStdout(), p, !inferred, snapshot)
		return err
	})
}

func runRemove(cmd *cobra.Command, args []string) error {
	p, err := patternFromFlags(cmd)
	if err != nil {
		return err
	}
	return withConnection(cmd, false, func(ctx context.Context, conn sail.Connection) error {
		var removed int
		err := inTransaction(ctx, conn, func() error {
			var err error
			removed, err = conn.RemoveStatements(ctx, p, true)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Removed %d statements\n", removed)
		return nil
	})
}

func runDump(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	return withConnection(cmd, true, func(ctx context.Context, conn sail.Connection) (err error) {
		w := cmd.OutOrStdout()
		if output != "" {
			f, createErr := os.Create(output)
			if createErr != nil {
				return createErr
			}
			defer func() {
				err = errors.Join(err, f.Close())
			}()
			w = f
		}
		n, err := storage.DumpNQuads(ctx, conn, w, rdf.Pattern{}, true, sail.Latest)
		if err != nil {
			return err
		}
		if output != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %d statements to %s\n", n, output)
		}
		return nil
	})
}

func runStats(cmd *cobra.Command, args []string) (err error) {
	store, err := openStore(cmd, true, nil)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, shutdown(store))
	}()
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(store.Stats())
}

func runNamespaceList(cmd *cobra.Command, args []string) error {
	return withConnection(cmd, true, func(ctx context.Context, conn sail.Connection) error {
		for _, ns := range conn.Namespaces() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: <%s>\n", ns.Prefix, ns.Name)
		}
		return nil
	})
}

func runNamespaceSet(cmd *cobra.Command, args []string) error {
	name, err := rdf.ParseIRI("<" + args[1] + ">")
	if err != nil {
		return fmt.Errorf("namespace: %w", err)
	}
	return withConnection(cmd, false, func(ctx context.Context, conn sail.Connection) error {
		return conn.SetNamespace(ctx, args[0], string(name))
	})
}

func runNamespaceRemove(cmd *cobra.Command, args []string) error {
	return withConnection(cmd, false, func(ctx context.Context, conn sail.Connection) error {
		return conn.RemoveNamespace(ctx, args[0])
	})
}

func runCompact(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.Persistence.Enabled {
		return errors.New("compact requires persistence")
	}
	syncer, err := persist.Open(persist.BadgerOptions{
		DataDir: cfg.Persistence.DataDir,
		Logger:  cfg.Logging.NewLogger(cmd.ErrOrStderr()),
	})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, syncer.Close())
	}()

	lsm, vlog := syncer.Size()
	fmt.Fprintf(cmd.OutOrStdout(), "📦 Before: LSM %s, value log %s\n", config.FormatMemorySize(lsm), config.FormatMemorySize(vlog))
	if err := syncer.RunGC(); err != nil {
		return fmt.Errorf("value log GC: %w", err)
	}
	lsm, vlog = syncer.Size()
	fmt.Fprintf(cmd.OutOrStdout(), "✅ After:  LSM %s, value log %s\n", config.FormatMemorySize(lsm), config.FormatMemorySize(vlog))
	return nil
}

func runServe(cmd *cobra.Command, args []string) (err error) {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	store, err := openStore(cmd, false, reg)
	if err != nil {
		return err
	}
	defer func() {
		fmt.Fprintln(cmd.OutOrStdout(), "🛑 Shutting down...")
		err = errors.Join(err, shutdown(store))
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(store.Stats())
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	stats := store.Stats()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ quadstore v%s is ready\n", version)
	fmt.Fprintf(out, "   Statements: %d (snapshot %d)\n", stats.IndexedStatements, stats.Snapshot)
	fmt.Fprintf(out, "   Metrics:    http://localhost%s/metrics\n", addr)
	fmt.Fprintf(out, "   Health:     http://localhost%s/health\n", addr)
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	select {
	case <-sigChan:
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
