package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/captcha"
	"github.com/locplace/mapscan/internal/config"
	"github.com/locplace/mapscan/internal/geofence"
	"github.com/locplace/mapscan/internal/metrics"
	"github.com/locplace/mapscan/internal/planner"
	"github.com/locplace/mapscan/internal/rpc"
	"github.com/locplace/mapscan/internal/scanner"
	"github.com/locplace/mapscan/internal/scheduler"
	"github.com/locplace/mapscan/internal/server"
	"github.com/locplace/mapscan/internal/store"
	"github.com/locplace/mapscan/internal/webhook"
)

const (
	cleanerInterval  = time.Minute
	recyclerInterval = time.Minute
)

func main() {
	configPath := flag.String("config", os.Getenv("SCANNER_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // Sync error not actionable on exit
	log := logger.Sugar()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	center, _ := config.ParseCenter(cfg.Center) //nolint:errcheck // checked by Validate

	// Register Prometheus metrics
	metrics.Register(prometheus.DefaultRegisterer)
	scanMetrics := scanner.NewMetrics(prometheus.DefaultRegisterer)

	// Connect to database
	ctx := context.Background()
	database, err := store.New(ctx, cfg.Database.URL, cfg.DBMaxConns())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Info("Connected to database")

	// Run migrations
	from, to, err := store.Migrate(cfg.Database.URL)
	if errors.Is(err, store.ErrSchemaTooNew) {
		log.Errorf("Refusing to start: %v", err)
		database.Close()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	if from != to {
		log.Infof("Database schema migrated from version %d to %d", from, to)
	}

	// Identities
	rotation, _ := account.ParseRotation(cfg.ProxyRotation) //nolint:errcheck // checked by Validate
	identities, err := account.LoadIdentities(cfg.Identities)
	if err != nil {
		log.Fatalf("Failed to load identities: %v", err)
	}
	var proxies *account.ProxyRotator
	if len(cfg.ProxyList) > 0 {
		proxies = account.NewProxyRotator(cfg.ProxyList, rotation)
	}
	pool := account.NewPool(cfg.PoolConfig(), identities, proxies, log.Named("accounts"))
	log.Infof("Loaded %d identities, %d proxies (%s rotation)", len(identities), len(cfg.ProxyList), rotation)

	// Planning
	var fences *geofence.Fences
	if cfg.GeofenceFile != "" || cfg.GeofenceExcludedFile != "" {
		fences, err = geofence.Load(cfg.GeofenceFile, cfg.GeofenceExcludedFile)
		if err != nil {
			log.Fatalf("Failed to load geofences: %v", err)
		}
	}
	plan, err := planner.New(cfg.PlannerConfig(fences), database, log.Named("planner"))
	if err != nil {
		log.Fatalf("Failed to create planner: %v", err)
	}
	sched := scheduler.New(cfg.SchedulerConfig(), plan, log.Named("scheduler"))
	sched.SetLocation(center)

	// Output pipelines
	sinks, err := webhook.NewSinks(cfg.WebhookTargets(), cfg.Webhook.AMQPExchange, log.Named("webhook"))
	if err != nil {
		log.Fatalf("Failed to create webhook sinks: %v", err)
	}
	defer webhook.CloseSinks(sinks)
	fanout := webhook.New(cfg.FanoutConfig(), sinks, log.Named("webhook"))
	fanout.SetMetrics(metrics.Webhooks{})
	upserter := store.NewUpserter(database, log.Named("upserter"))

	// Captcha handling
	captchaCfg := cfg.CaptchaConfig()
	holding := captcha.NewHolding(pool)
	pool.SetCaptchaHolder(holding)
	var requester captcha.TokenRequester
	if cfg.Captcha.Key != "" {
		solver := captcha.NewTwoCaptcha(cfg.Captcha.Key, cfg.Captcha.DSK, log.Named("2captcha"))
		if cfg.Captcha.APIBase != "" {
			solver.BaseURL = cfg.Captcha.APIBase
		}
		requester = solver
	}
	handler := captcha.NewHandler(captchaCfg, requester, pool, fanout, log.Named("captcha"))

	// Scanner
	s := scanner.New(cfg.ScannerConfig(), scanner.Runtime{
		Tasks:   sched,
		Pool:    pool,
		Dialer:  rpc.NewGateway(cfg.RPC.GatewayURL, cfg.RPC.Token, time.Duration(cfg.RPC.Timeout*float64(time.Second))),
		Captcha: handler,
		Sink:    upserter,
		Events:  fanout,
		Arenas:  database,
		Status:  database,
		Log:     log.Named("scanner"),
	})
	s.SetMetrics(scanMetrics)

	// Create background context for all goroutines
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	go sched.Run(bgCtx)

	// Pipelines flush on stop; shutdown waits for them
	var pipelines sync.WaitGroup
	pipelines.Go(func() { fanout.Run(bgCtx) })
	pipelines.Go(func() { upserter.Run(bgCtx) })

	if captchaCfg.Mode != captcha.ModeDisabled {
		overseer := captcha.NewOverseer(captchaCfg, holding, pool, database, requester, s, fanout, log.Named("captcha"))
		go overseer.Run(bgCtx)
	}

	// Start cleaner
	c := &store.Cleaner{
		DB:         database,
		Interval:   cleanerInterval,
		PurgeAfter: cfg.PurgeAfter(),
		Log:        log.Named("cleaner"),
		Runs:       metrics.CleanerRunsTotal,
	}
	go c.Run(bgCtx)

	// Start account recycler
	r := &account.Recycler{
		Pool:     pool,
		Interval: recyclerInterval,
		Log:      log.Named("accounts"),
	}
	go r.Run(bgCtx)

	// Start metrics updater
	metricsUpdater := metrics.NewUpdater(metrics.Sources{
		DB:         database.Pool,
		Scan:       sched,
		Store:      upserter,
		Webhooks:   fanout,
		Captcha:    holding,
		Identities: pool,
		Scheduler:  sched,
	}, metrics.UpdaterConfig{}, log.Named("metrics"))
	go metricsUpdater.Run(bgCtx)

	// Start operator server
	srv := &http.Server{
		Addr: cfg.Server.ListenAddr,
		Handler: server.New(server.Config{AdminAPIKey: cfg.Server.AdminKey}, server.Deps{
			Control:    sched,
			Tokens:     database,
			Identities: pool,
			Workers:    s,
			Captcha:    holding,
			Log:        log.Named("server"),
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Infof("Server listening on %s", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("Server error: %v", err)
		}
	}()

	// Set up graceful shutdown
	scanCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Run scanner in background
	done := make(chan error, 1)
	go func() {
		done <- s.Run(scanCtx)
	}()

	// Wait for signal or scanner completion
	select {
	case sig := <-sigChan:
		log.Infof("Received %v signal, initiating graceful shutdown...", sig)
		s.InitiateShutdown() // Signal workers to stop fetching new tasks

		// Wait for scanner to finish with timeout
		select {
		case <-done:
			log.Info("Scanner stopped gracefully")
		case <-time.After(30 * time.Second):
			log.Warn("Shutdown timeout exceeded, forcing exit")
			cancel() // Force cancel context
			<-done
		case sig := <-sigChan:
			log.Warnf("Received second %v signal, forcing exit", sig)
			cancel() // Force cancel context
			<-done
		}

	case err := <-done:
		if err != nil {
			log.Errorf("Scanner error: %v", err)
		}
	}

	shutdown(log, srv, cancelBg, &pipelines)
}

// shutdown stops the background pipelines, which flush what they hold, and
// the operator server.
func shutdown(log *zap.SugaredLogger, srv *http.Server, cancelBg context.CancelFunc, pipelines *sync.WaitGroup) {
	cancelBg()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	flushed := make(chan struct{})
	go func() {
		pipelines.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-shutdownCtx.Done():
		log.Warn("Timed out flushing database and webhook queues")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown error: %v", err)
	}
	log.Info("Goodbye")
}
