// Command replicator wires every collaborator package into a runnable
// process: a one-shot sync, or a long-lived server that exposes metrics
// and runs the configured schedule in the background.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-logr/logr"

	"github.com/ledgersync/replicator/internal/cliout"
	"github.com/ledgersync/replicator/internal/config"
	"github.com/ledgersync/replicator/internal/health"
	"github.com/ledgersync/replicator/pkg/audit"
	"github.com/ledgersync/replicator/pkg/companystate"
	"github.com/ledgersync/replicator/pkg/gatewayclient"
	"github.com/ledgersync/replicator/pkg/logging"
	"github.com/ledgersync/replicator/pkg/metrics"
	"github.com/ledgersync/replicator/pkg/queue"
	"github.com/ledgersync/replicator/pkg/recoverer"
	"github.com/ledgersync/replicator/pkg/retrycircuit"
	"github.com/ledgersync/replicator/pkg/scheduler"
	"github.com/ledgersync/replicator/pkg/store"
	syncpkg "github.com/ledgersync/replicator/pkg/sync"
	"github.com/ledgersync/replicator/pkg/tablespec"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "replicator:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("replicator", flag.ExitOnError)
	configPath := fs.String("config", "config/replicator.yaml", "path to the YAML configuration file")
	development := fs.Bool("dev", false, "use human-readable console logging instead of JSON")
	logLevel := fs.String("log-level", "info", "debug, info, warn, or error")
	metricsAddr := fs.String("metrics-addr", ":9100", "listen address for the /metrics endpoint (serve only)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	remaining := fs.Args()
	if len(remaining) == 0 {
		return fmt.Errorf("usage: replicator [flags] <full|incremental|serve|status|restore> [company|deleted-row-id]")
	}
	command := remaining[0]

	log, err := logging.New(logging.Options{Development: *development, Level: *logLevel})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	app, err := wire(cfg, log)
	if err != nil {
		return err
	}
	defer app.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "full", "incremental":
		if len(remaining) < 2 {
			return fmt.Errorf("%s requires a company name", command)
		}
		return app.runOnce(ctx, remaining[1], command == "full")
	case "serve":
		return app.serve(ctx, *metricsAddr)
	case "status":
		if len(remaining) < 2 {
			return fmt.Errorf("status requires a company name")
		}
		return app.printStatus(remaining[1])
	case "restore":
		if len(remaining) < 2 {
			return fmt.Errorf("restore requires a deleted-row id")
		}
		return app.restore(remaining[1])
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// application holds every wired collaborator, built once at startup and
// shared between whichever command the caller picked.
type application struct {
	cfg       config.Config
	log       logr.Logger
	store     *store.Store
	doc       tablespec.Document
	client    *gatewayclient.Client
	companies *companystate.Repository
	recover   *recoverer.Recoverer
	audit     *audit.Recorder
	sync      *syncpkg.Synchronizer
	queue     *queue.Queue
	metrics   *metrics.Recorder
}

func wire(cfg config.Config, log logr.Logger) (*application, error) {
	doc, err := tablespec.Load(cfg.Sync.TableSpecPath)
	if err != nil {
		return nil, err
	}
	if err := tablespec.Validate(*doc); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.StoreOpenConfig(), log)
	if err != nil {
		return nil, err
	}

	retryCfg, err := cfg.RetryCircuitConfig()
	if err != nil {
		st.Close()
		return nil, err
	}
	circuits := retrycircuit.NewRegistry(retryCfg, log)

	client := gatewayclient.New(cfg.GatewayClientConfig(), circuits.For("gateway"), log)
	companies := companystate.NewRepository(st.DB())
	rec := audit.NewRecorder(st.DB(), log)

	statePath := cfg.Sync.RecoverStatePath
	if statePath == "" {
		statePath = cfg.Store.Path + ".state.json"
	}
	rcv := recoverer.New(statePath)

	synchronizer := syncpkg.New(*doc, client, st, rec, companies, rcv, log)

	m := metrics.New()

	q := queue.New(synchronizer, log)
	q.Metrics = m

	return &application{
		cfg:       cfg,
		log:       log,
		store:     st,
		doc:       *doc,
		client:    client,
		companies: companies,
		recover:   rcv,
		audit:     rec,
		sync:      synchronizer,
		queue:     q,
		metrics:   m,
	}, nil
}

// runOnce drives a single synchronous full or incremental sync for one
// company, printing progress to the terminal the way a cron-less operator
// invocation is expected to.
func (a *application) runOnce(ctx context.Context, company string, full bool) error {
	cliout.BluePrintln(fmt.Sprintf("starting sync for %s", company))
	var err error
	if full {
		err = a.sync.FullSync(ctx, company, a.cfg.Sync.ParallelFetch)
	} else {
		err = a.sync.IncrementalSync(ctx, company)
	}
	if err != nil {
		cliout.DeletePrintln(fmt.Sprintf("sync for %s failed: %v", company, err))
		return err
	}
	p := a.sync.Progress()
	cliout.InsertPrintln(fmt.Sprintf("sync for %s complete: %d rows", company, p.RowsProcessed))
	return nil
}

// companyList resolves the set of companies a scheduled run should cover:
// the explicit config list when given, otherwise every company this store
// already has bookkeeping for.
func (a *application) companyList() ([]string, error) {
	if len(a.cfg.Sync.Companies) > 0 {
		return a.cfg.Sync.Companies, nil
	}
	states, err := a.companies.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.Company
	}
	return names, nil
}

// serve starts the background queue worker, arms the schedule if
// configured, and blocks serving /metrics and /healthz until the context
// is cancelled (SIGINT/SIGTERM).
func (a *application) serve(ctx context.Context, metricsAddr string) error {
	trigger := scheduler.QueueTrigger{Queue: a.queue, Companies: a.companyList}
	sched := scheduler.New(trigger, a.log)
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	if a.cfg.Scheduler.Enabled {
		if err := sched.Update(a.cfg.SchedulerTriggerConfig()); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap, err := health.Read(a.cfg.Store.Path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "disk_used_percent=%.1f mem_used_percent=%.1f\n", snap.DiskUsedPercent, snap.MemUsedPercent)
	})

	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	a.log.Info("replicator serving", "metrics_addr", metricsAddr)

	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// printStatus reports the last recorded company_config bookkeeping row and
// the crash-state sidecar's current contents, if any.
func (a *application) printStatus(company string) error {
	state, ok, err := a.companies.Get(company)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("%s: no sync recorded yet\n", company)
	} else {
		fmt.Printf("%s: last_sync=%s kind=%s sync_count=%d master_alter_id=%d transaction_alter_id=%d\n",
			company, state.LastSyncAt, state.LastSyncKind, state.SyncCount,
			state.LastAlterIDMaster, state.LastAlterIDTransaction)
	}

	crash, ok, err := a.recover.Read()
	if err != nil {
		return err
	}
	if ok && crash.Company == company && crash.Status == recoverer.StatusRunning {
		fmt.Printf("%s: sync in progress, currently on %s (%d rows so far)\n",
			company, cliout.PlainLabel(crash.CurrentTable), crash.RowsProcessed)
	}
	return nil
}

// restore re-inserts a previously deleted row by its deleted_rows id and
// records the restore as a fresh INSERT audit event.
func (a *application) restore(idArg string) error {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("deleted-row id must be an integer: %w", err)
	}
	if err := a.audit.Restore(id); err != nil {
		return err
	}
	cliout.InsertPrintln(fmt.Sprintf("restored deleted row %d", id))
	return nil
}
