package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"main/internal/alert"
	"main/internal/audit"
	"main/internal/bus"
	"main/internal/compliance"
	"main/internal/council"
	"main/internal/execution"
	"main/internal/killswitch"
	"main/internal/ledger"
	"main/internal/marketdata"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/risk"
	"main/internal/runtime"
	"main/pkg/conn"
)

var configPath string

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "director",
		Short: "Autonomous trading director loop",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to JSON config")
	root.AddCommand(runCmd(), onceCmd(), resumeCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the director loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ops.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.runtime.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			logs.Info("director loop stopped")
			return nil
		},
	}
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and print the resulting health snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ops.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			cycleErr := a.runtime.RunCycle(ctx)
			printJSON(a.runtime.Health())
			return cycleErr
		},
	}
}

func resumeCmd() *cobra.Command {
	var authRef string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Record a halt-resume authorization in the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			if authRef == "" {
				return fmt.Errorf("resume: --auth is required")
			}
			cfg, err := ops.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			rec, err := audit.NewRecorder(auditConfig(cfg))
			if err != nil {
				return err
			}
			if err := rec.Start(ctx); err != nil {
				return err
			}
			if err := rec.Record("operator", "resume_authorized", authRef, nil); err != nil {
				return err
			}
			if err := rec.Close(); err != nil {
				return err
			}
			fmt.Printf("resume authorization recorded: %s\n", authRef)
			return nil
		},
	}
	cmd.Flags().StringVar(&authRef, "auth", "", "Authorization reference (ticket, approver)")
	return cmd
}

func statusCmd() *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the persisted portfolio state and recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ops.Load(configPath)
			if err != nil {
				return err
			}

			store, db, err := snapshotStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close(db) }()

			if store == nil {
				fmt.Println("no snapshot store configured")
			} else {
				snap, ok, err := store.Load()
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("no snapshot persisted yet")
				} else {
					printJSON(snap)
				}
			}

			auditCfg := auditConfig(cfg)
			events, err := audit.ReadDir(auditCfg.Dir, auditCfg.FilePrefix)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if len(events) > tail {
				events = events[len(events)-tail:]
			}
			for _, event := range events {
				fmt.Printf("%s %s/%s %s\n",
					event.Timestamp.Format(time.RFC3339), event.Agent, event.Type, event.ContextRef)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 20, "Number of trailing audit events to print")
	return cmd
}

// app bundles the wired collaborators and their teardown order.
type app struct {
	bus      *bus.Bus
	recorder *audit.Recorder
	runtime  *runtime.Runtime
	db       *gorm.DB
	profiler *pyroscope.Profiler
}

func build(ctx context.Context, cfg ops.FileConfig) (*app, error) {
	a := &app{bus: bus.New(1024)}

	if cfg.Profiling.Enable {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: appName(cfg),
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("pyroscope start: %w", err)
		}
		a.profiler = profiler
	}

	recorder, err := audit.NewRecorder(auditConfig(cfg))
	if err != nil {
		a.close()
		return nil, err
	}
	if err := recorder.Start(ctx); err != nil {
		a.close()
		return nil, err
	}
	a.recorder = recorder

	book := ledger.New(cfg.Runtime.StartingCash)
	store, db, err := snapshotStore(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.db = db
	if store != nil {
		snap, ok, err := store.Load()
		if err != nil {
			a.close()
			return nil, err
		}
		if ok {
			book.Restore(snap)
			logs.Infof("ledger restored: cycle=%d nav=%.2f", snap.Cycle, book.NAV())
		}
	}

	tracker := council.NewTracker("momentum", "value", "macro")
	if cfg.Runtime.WeightsPath != "" {
		if err := tracker.Load(cfg.Runtime.WeightsPath); err != nil {
			a.close()
			return nil, fmt.Errorf("tracker weights: %w", err)
		}
	}
	cncl := council.New(cfg.Council, tracker,
		council.NewMomentumEvaluator(),
		council.NewValueEvaluator(),
		council.NewMacroEvaluator(),
	)
	cncl.Bind(a.bus)

	estimator := risk.NewHistoryVaR(cfg.Risk.VaRWindow, cfg.Risk.VaRLookback, cfg.Risk.VaRConfidence)
	riskEngine := risk.NewEngine(cfg.Risk.Limits, estimator)
	harness := risk.NewStressHarness(risk.DefaultScenarios())
	monitor := risk.NewMonitor(cfg.Risk.Monitor, a.bus, harness, estimator)

	execEngine := execution.NewEngine(cfg.Execution, execution.NewPaperBroker(5), a.bus)
	controller := killswitch.NewController(cfg.Runtime.FailureHalt, execEngine.CancelOpen, recorder)
	controller.Bind(a.bus)

	notifier, err := buildNotifier(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	alert.Bind(a.bus, notifier)

	a.runtime = runtime.New(runtime.Config{
		Symbols:      cfg.Runtime.Symbols,
		TickInterval: cfg.Runtime.TickInterval,
		WeightsPath:  cfg.Runtime.WeightsPath,
	}, runtime.Deps{
		Bus:        a.bus,
		Audit:      recorder,
		Provider:   marketdata.NewRandomWalkProvider(baselineQuotes(cfg.Runtime.Symbols), 0.02, time.Now().UnixNano()),
		Council:    cncl,
		Risk:       riskEngine,
		Monitor:    monitor,
		Compliance: compliance.NewEngine(cfg.Compliance),
		Execution:  execEngine,
		Controller: controller,
		Book:       book,
		Store:      store,
		Metrics:    obs.NewMetrics(),
	})
	return a, nil
}

func (a *app) close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			logs.Errorf("audit close: %v", err)
		}
	}
	if err := conn.Close(a.db); err != nil {
		logs.Errorf("db close: %v", err)
	}
	if a.profiler != nil {
		_ = a.profiler.Stop()
	}
}

func auditConfig(cfg ops.FileConfig) audit.Config {
	if cfg.Audit.Dir == "" {
		return audit.DefaultConfig("data/audit")
	}
	return cfg.Audit
}

func snapshotStore(cfg ops.FileConfig) (ledger.SnapshotStore, *gorm.DB, error) {
	if pg := cfg.Storage.Postgres; pg != nil {
		db, err := conn.OpenPostgres(conn.Settings{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			Database: pg.Database,
			SSLMode:  pg.SSLMode,
		})
		if err != nil {
			return nil, nil, err
		}
		store, err := ledger.NewPgStore(db)
		if err != nil {
			_ = conn.Close(db)
			return nil, nil, err
		}
		return store, db, nil
	}
	if cfg.Storage.SnapshotPath != "" {
		return &ledger.FileStore{Path: cfg.Storage.SnapshotPath}, nil, nil
	}
	return nil, nil, nil
}

func buildNotifier(cfg ops.FileConfig) (alert.Notifier, error) {
	if cfg.Alert.TelegramToken != "" {
		return alert.NewTelegram(cfg.Alert.TelegramToken, cfg.Alert.TelegramChatID)
	}
	return alert.LogNotifier{}, nil
}

// baselineQuotes seeds the simulated feed. Prices are staggered per symbol so
// a multi-symbol book does not start uniform.
func baselineQuotes(symbols []string) map[string]marketdata.Quote {
	quotes := make(map[string]marketdata.Quote, len(symbols))
	for i, symbol := range symbols {
		base := 100.0 + float64(i)*25
		quotes[symbol] = marketdata.Quote{
			Symbol:    symbol,
			Last:      base,
			PrevClose: base,
			Volume:    1_000_000,
			Fundamentals: map[string]float64{
				"peRatio":      16,
				"profitMargin": 0.08,
			},
		}
	}
	return quotes
}

func appName(cfg ops.FileConfig) string {
	if cfg.Profiling.AppName != "" {
		return cfg.Profiling.AppName
	}
	return "director"
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", v)
		return
	}
	fmt.Println(string(data))
}
