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
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"masterplan/internal/app"
	"masterplan/internal/calendar"
	"masterplan/internal/config"
	"masterplan/internal/domain"
	"masterplan/internal/engine"
	"masterplan/internal/ingest"
	"masterplan/internal/logger"
	"masterplan/internal/metrics"
	"masterplan/internal/server"
	"masterplan/internal/syncer"
	masterplansdk "masterplan/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "mp",
	Short: "Masterplan CLI",
	Long: `Masterplan turns a production order sheet into a plant schedule and keeps viewers in sync.
- Plan: read a spreadsheet, expand each line into process tasks, assign machines and lines, schedule on working hours.
- Events: the scheduled tasks as calendar events, stored in the workspace database.
- Serve: expose the events over HTTP with a delta sync endpoint.
- Sync: poll a server and keep a local cached copy up to date.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetLevel(viper.GetString("log-level"))
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MASTERPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(sampleCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(changesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(tokenCmd())
}

func planCmd() *cobra.Command {
	var save, keep bool
	var epoch, sheet, encoding string
	cmd := &cobra.Command{
		Use:   "plan <file>",
		Short: "Schedule a production sheet (.xlsx, .csv or .json)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := ingest.ReadFile(args[0], ingest.Options{Sheet: sheet, Encoding: encoding})
			if err != nil {
				return err
			}
			return withWorkspace(func(ws *app.Workspace) error {
				opts := engine.PlanOptions{Save: save, Keep: keep, ActorID: viper.GetString("actor-id")}
				if epoch != "" {
					loc, err := ws.Config.Location()
					if err != nil {
						return err
					}
					t, err := parseEpoch(epoch, loc)
					if err != nil {
						return err
					}
					opts.Epoch = t
				}
				res, err := ws.Engine.Plan(cmd.Context(), rows, opts)
				if err != nil {
					return err
				}
				if save {
					store := app.CacheStore(ws.Dir, ws.Config, newLogger("cache"))
					store.FileName = filepath.Base(args[0])
					if err := store.Save(cmd.Context(), res.Events); err != nil {
						return fmt.Errorf("write cache: %w", err)
					}
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printEvents(res.Events)
				fmt.Printf("rows: %d accepted, %d skipped", res.Report.Accepted, res.Report.Skipped)
				if len(res.Unresolved) > 0 {
					fmt.Printf(", %d unresolved dependencies", len(res.Unresolved))
				}
				if len(res.Corrections) > 0 {
					fmt.Printf(", %d ids repaired", len(res.Corrections))
				}
				if res.Saved {
					fmt.Printf(", saved (next line %d)", res.LineCursor)
				}
				fmt.Println()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "store the events in the workspace")
	cmd.Flags().BoolVar(&keep, "keep", false, "with --save, keep stored events that the plan does not produce")
	cmd.Flags().StringVar(&epoch, "epoch", "", "earliest start (RFC3339 or YYYY-MM-DD); default now")
	cmd.Flags().StringVar(&sheet, "sheet", "", "worksheet name for workbooks")
	cmd.Flags().StringVar(&encoding, "encoding", "", "CSV encoding (utf-8, windows-1252, latin1)")
	return cmd
}

func sampleCmd() *cobra.Command {
	var run bool
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print the sample production sheet, or schedule it with --plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := ingest.SampleRows()
			if !run {
				return printJSON(rows)
			}
			return withWorkspace(func(ws *app.Workspace) error {
				res, err := ws.Engine.Plan(cmd.Context(), rows, engine.PlanOptions{})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Events)
				}
				printEvents(res.Events)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&run, "plan", false, "schedule the sample rows without saving")
	return cmd
}

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Inspect stored events"}
	ev.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(ws *app.Workspace) error {
				items, err := ws.Engine.ListEvents(cmd.Context())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printEvents(items)
				return nil
			})
		},
	})
	ev.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(ws *app.Workspace) error {
				if err := ws.Engine.DeleteEvent(cmd.Context(), args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	})
	return ev
}

func changesCmd() *cobra.Command {
	var n int
	var since string
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Show the change journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var after time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				after = t
			}
			return withWorkspace(func(ws *app.Workspace) error {
				items, err := ws.Engine.Changes(cmd.Context(), after, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "When", "Kind", "Event", "Actor"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, time.Unix(0, c.TS).Format(time.RFC3339), c.Kind, c.EventID, c.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&since, "since", "", "only entries after this RFC3339 time")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage masterplan.yml",
		Long:  "masterplan.yml holds the working calendar, the machine and line pools, and the sync settings.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default masterplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate masterplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(ws *app.Workspace) error {
				if addr == "" {
					addr = ws.Config.Server.Addr
				}
				if basePath == "" {
					basePath = ws.Config.Server.BasePath
				}
				log := newLogger("server")
				ws.Engine.Log = log
				authCfg := server.AuthConfig{
					JWTSecret:     os.Getenv("MASTERPLAN_JWT_SECRET"),
					AllowDevLogin: devLogin,
					Logger:        log,
				}
				if authCfg.JWTSecret == "" {
					log.Warnf("MASTERPLAN_JWT_SECRET not set; writes are not authenticated")
				}
				handler, err := server.New(server.Config{Engine: ws.Engine, BasePath: basePath, Auth: authCfg, Gatherer: ws.Registry})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g, ctx := errgroup.WithContext(cmd.Context())
				g.Go(func() error {
					fmt.Printf("Serving Masterplan API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the dev token endpoint")
	return cmd
}

func syncCmd() *cobra.Command {
	var remote, mode string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Keep the local event cache in sync with a server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if remote == "" {
				remote = cfg.Sync.Remote
			}
			if mode == "" {
				mode = cfg.Sync.Mode
			}
			mergeMode, err := calendar.ParseMergeMode(mode)
			if err != nil {
				return err
			}
			if interval <= 0 {
				interval = cfg.Sync.Interval
			}
			m, err := metrics.New(nil)
			if err != nil {
				return err
			}
			log := newLogger("sync")
			client := masterplansdk.New(remote)
			client.BasePath = cfg.Server.BasePath
			client.ActorID = viper.GetString("actor-id")
			client.BearerToken = os.Getenv("MASTERPLAN_TOKEN")
			store := app.CacheStore(workspace, cfg, newLogger("cache"))
			coord := syncer.New(client, store, client, syncer.Options{
				Interval:       interval,
				Cooldown:       cfg.Sync.Cooldown,
				RequestTimeout: cfg.Sync.RequestTimeout,
				Mode:           mergeMode,
				Log:            log,
				Metrics:        m,
				OnChange: func(events []domain.CalendarEvent) {
					log.Infof("collection now has %d events", len(events))
				},
			})
			if coord.Restore(cmd.Context()) {
				log.Infof("restored %d cached events", len(coord.Events()))
			}
			coord.Start(cmd.Context())
			fmt.Printf("Syncing with %s every %s (%s mode); Ctrl-C to stop\n", remote, interval, mergeMode)
			<-cmd.Context().Done()
			coord.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "server URL (default from config)")
	cmd.Flags().StringVar(&mode, "mode", "", "merge or replace (default from config)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default from config)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token with MASTERPLAN_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("MASTERPLAN_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("MASTERPLAN_JWT_SECRET is required")
			}
			token, err := server.SignToken(secret, viper.GetString("actor-id"), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// --- helpers ---

func withWorkspace(fn func(*app.Workspace) error) error {
	ws, err := app.Open(viper.GetString("workspace"), newLogger("engine"))
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ws)
}

func newLogger(component string) logger.Logger {
	return logger.New(component)
}

func parseEpoch(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("--epoch must be RFC3339 or YYYY-MM-DD: %w", err)
	}
	return t, nil
}

func printEvents(events []domain.CalendarEvent) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Process", "Resource", "Start", "End", "Priority", "Status"})
	for _, ev := range events {
		tw.AppendRow(table.Row{
			ev.ID, ev.Title, ev.ProcessType, ev.Resource(),
			ev.Start.Format("2006-01-02 15:04"), ev.End.Format("2006-01-02 15:04"),
			ev.Priority, ev.Status,
		})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
