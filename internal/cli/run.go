package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"coordsync/internal/adapter"
	"coordsync/internal/changelog"
	"coordsync/internal/config"
	"coordsync/internal/discovery"
	"coordsync/internal/logging"
	"coordsync/internal/node"
	"coordsync/internal/transport"
)

// DefaultDataPath is the SQLite database holding replicated records.
const DefaultDataPath = "coordsync-data.db"

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DataPath    string
	Collections []string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join the cluster and replicate collections",
		Long: `Join the cluster for the configured service name and keep the given
collections in sync until interrupted.

Records live in a local SQLite database. Mutations made with the records
command (or by any program writing the same tables) are picked up on the
next sync tick.

Example:
  coordsync run --config node.yaml --collection messages
  COORDSYNC_SYNC_PORT=7012 coordsync run --data ./n2.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.DataPath, "data", DefaultDataPath, "path to the SQLite records database")
	cmd.Flags().StringSliceVar(&opts.Collections, "collection", []string{"messages"}, "collections to replicate")

	return cmd
}

func runNode(parent context.Context, opts *RunOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Enabled: cfg.LogEnabled,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  os.Stderr,
	})

	store, err := changelog.Open(cfg.ChangeLogDriver, cfg.ChangeLogDSN)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open change log", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("error closing change log", "error", closeErr)
		}
	}()

	db, err := openData(opts.DataPath)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := node.New(node.Options{
		Config:    cfg,
		Network:   transport.NewGRPC(),
		Discovery: newDiscoverer(cfg, logger),
		ChangeLog: store,
		Logger:    logger,
		NodeID:    cfg.NodeID,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create node", err)
	}
	for _, name := range opts.Collections {
		src, err := adapter.NewSQLSource(db, name)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to prepare collection %s", name), err)
		}
		if err := n.Define(name, src); err != nil {
			return WrapExitError(ExitCommandError, "failed to define collection", err)
		}
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start node", err)
	}
	<-ctx.Done()
	logger.Info("shutting down")
	n.Stop()
	return nil
}

// newDiscoverer uses the configured seeds when there are any and UDP
// broadcast otherwise.
func newDiscoverer(cfg config.Config, logger *logging.Logger) discovery.Discoverer {
	if len(cfg.Seeds) == 0 {
		return discovery.NewUDP(cfg.AnnouncePort, logger)
	}

	seeds := make([]discovery.Service, 0, len(cfg.Seeds))
	for _, p := range cfg.Seeds {
		svc, err := seedService(p)
		if err != nil {
			logger.Warn("ignoring seed", "seed", p.ID, "error", err)
			continue
		}
		seeds = append(seeds, svc)
	}
	static := discovery.NewStatic(seeds)
	static.Interval = cfg.DiscoveryTimeout / 4
	static.Probe = discovery.TCPProbe(500 * time.Millisecond)
	return static
}

func seedService(p config.Peer) (discovery.Service, error) {
	host, port, err := splitHostPort(p.Addr)
	if err != nil {
		return discovery.Service{}, err
	}
	return discovery.Service{NodeID: p.ID, Host: host, Port: port}, nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}

func openData(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open records database", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open records database", err)
	}
	return db, nil
}
