package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vonshlovens/tillsync/internal/config"
	"github.com/vonshlovens/tillsync/internal/remote"
	"github.com/vonshlovens/tillsync/internal/scheduler"
	"github.com/vonshlovens/tillsync/internal/store"
	tillsync "github.com/vonshlovens/tillsync/internal/sync"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "tillsync",
		Short:   "Offline-first point-of-sale sync engine",
		Long:    `Reconciles a till's local SQLite database and image assets with the authoritative remote Postgres and object storage backend.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		pushCmd(),
		pullCmd(),
		syncCmd(),
		statusCmd(),
		testCmd(),
		imagesCmd(),
		daemonCmd(),
		migrateCmd(),
		initCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// session bundles everything a sync command needs.
type session struct {
	cfg    *config.Config
	store  *store.Store
	client *remote.Client
	engine *tillsync.Engine
}

func (s *session) close() {
	if s.client != nil {
		s.client.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// openSession loads config, opens the local store, resolves credentials
// and connects to the remote backend.
func openSession(ctx context.Context, withProgress bool) (*session, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	creds, err := config.ResolveCredentials(ctx, st, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	slog.Debug("credentials resolved", "source", creds.Source)

	client, err := remote.New(ctx, creds, &cfg.Remote)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to connect to remote backend: %w", err)
	}

	var assets *tillsync.AssetSyncer
	if cfg.AssetDir != "" {
		assets = tillsync.NewAssetSyncer(client, cfg.AssetDir, cfg.AssetIgnorePatterns)
	}

	opts := []tillsync.Option{
		tillsync.WithOpTimeout(time.Duration(cfg.Sync.OpTimeoutSec) * time.Second),
	}
	if withProgress {
		bar := progressbar.NewOptions(len(tillsync.Plan),
			progressbar.OptionSetDescription("Syncing tables"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionClearOnFinish(),
		)
		opts = append(opts, tillsync.WithProgress(func(table string) {
			bar.Add(1)
		}))
	}

	return &session{
		cfg:    cfg,
		store:  st,
		client: client,
		engine: tillsync.NewEngine(st, client, assets, opts...),
	}, nil
}

func pushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push local rows and assets to the remote backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.engine.Push(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Pushed %d rows, %d images uploaded (%d skipped), %d orphaned assets removed.\n",
				res.RowsPushed, res.Images.Uploaded, res.Images.Skipped, res.AssetsDeleted)
			return nil
		},
	}
}

func pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Pull remote rows and assets into the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.engine.Pull(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Pulled %d rows, %d images downloaded.\n",
				res.RowsPulled, res.ImagesDownloaded)
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Full sync: push then pull",
		Long:  `Performs a push followed by a pull. When the local store has no products and no transactions the push phase is skipped, so a fresh install cannot wipe remote data.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.engine.FullSync(ctx)
			if err != nil {
				return err
			}
			if res.PushSkipped {
				fmt.Println("Local store empty; push skipped.")
			} else {
				fmt.Printf("Pushed %d rows.\n", res.Push.RowsPushed)
			}
			fmt.Printf("Pulled %d rows, %d images downloaded.\n",
				res.Pull.RowsPulled, res.Pull.ImagesDownloaded)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			report := struct {
				Connected    bool       `yaml:"connected"`
				LastSync     *time.Time `yaml:"last_sync"`
				Products     int        `yaml:"products"`
				Transactions int        `yaml:"transactions"`
			}{}

			report.Connected = s.engine.TestConnection(ctx) == nil
			if report.LastSync, err = s.engine.LastSync(ctx); err != nil {
				return err
			}
			if report.Products, err = s.store.CountRows(ctx, "products"); err != nil {
				return err
			}
			if report.Transactions, err = s.store.CountRows(ctx, "transactions"); err != nil {
				return err
			}

			out, err := yaml.Marshal(report)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test remote connectivity",
		Long:  `Probes the remote data store and the asset bucket separately, so a failure names which half is unreachable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.engine.TestConnection(ctx); err != nil {
				return err
			}
			fmt.Println("Remote backend reachable.")
			return nil
		},
	}
}

func imagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "images",
		Short: "Diagnose local image asset state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Diagnostics never touch the network; no remote session.
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.AssetDir == "" {
				fmt.Println("No asset directory configured.")
				return nil
			}
			st, err := store.Open(ctx, cfg.DatabasePath())
			if err != nil {
				return fmt.Errorf("failed to open local store: %w", err)
			}
			defer st.Close()

			assets := tillsync.NewAssetSyncer(nil, cfg.AssetDir, cfg.AssetIgnorePatterns)
			diag, err := assets.Diagnose(ctx, st)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(diag)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the background auto-sync process",
		Long:  `Starts a process that pushes on the configured interval and whenever the asset directory changes. The auto_sync_interval setting in the local store overrides the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			trigger := func(ctx context.Context) {
				if _, err := s.engine.Push(ctx); err != nil {
					slog.Error("scheduled push failed", "error", err)
				}
			}

			intervalName := s.cfg.Sync.AutoPushInterval
			if v, ok, err := s.store.Setting(ctx, tillsync.SettingAutoSyncInterval); err != nil {
				return err
			} else if ok && v != "" {
				intervalName = v
			}
			interval, err := scheduler.ParseInterval(intervalName)
			if err != nil {
				return err
			}

			sched := scheduler.New(trigger)
			sched.SetInterval(ctx, interval)
			defer sched.Stop()

			if s.cfg.AssetDir != "" {
				w, err := scheduler.NewWatcher(s.cfg.AssetDir, s.cfg.Sync.DebounceMs, trigger)
				if err != nil {
					return err
				}
				defer w.Close()
				go w.Run(ctx)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			slog.Info("daemon started", "interval", intervalName, "assets", s.cfg.AssetDir)
			fmt.Println("Auto-sync running. Press Ctrl+C to stop.")
			<-sigCh
			slog.Info("shutting down...")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending local schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			st, err := store.Open(ctx, cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Printf("Local store at %s is up to date.\n", cfg.DatabasePath())
			return nil
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := config.ConfigDir()
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
			path := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			sample := `# tillsync configuration
data_dir: ` + config.DefaultDataDir() + `
asset_dir: ""

remote:
  endpoint: ""
  secret: ""
  database: tillsync
  database_port: 5432
  database_user: tillsync
  bucket: till-assets
  storage_port: 9000
  storage_tls: true

sync:
  op_timeout_sec: 30
  auto_push_interval: "off"
  debounce_ms: 2000
`
			if err := os.WriteFile(path, []byte(sample), 0600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}
