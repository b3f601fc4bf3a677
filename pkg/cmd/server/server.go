package server

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // profiling is opt-in via flag
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/pkg/config"
	"github.com/redmist-racing/timing-session-manager/pkg/db/postgres"
	"github.com/redmist-racing/timing-session-manager/pkg/model"
	"github.com/redmist-racing/timing-session-manager/pkg/pipeline"
	"github.com/redmist-racing/timing-session-manager/pkg/processing/flags"
	"github.com/redmist-racing/timing-session-manager/pkg/processing/grid"
	"github.com/redmist-racing/timing-session-manager/pkg/processing/pit"
	"github.com/redmist-racing/timing-session-manager/pkg/processing/rmonitor"
	natsrelay "github.com/redmist-racing/timing-session-manager/pkg/relay/nats"
	"github.com/redmist-racing/timing-session-manager/pkg/repository/flagledger"
	"github.com/redmist-racing/timing-session-manager/pkg/repository/lap"
	"github.com/redmist-racing/timing-session-manager/pkg/repository/loopmeta"
	"github.com/redmist-racing/timing-session-manager/pkg/service/consistency"
	"github.com/redmist-racing/timing-session-manager/pkg/service/laplog"
	"github.com/redmist-racing/timing-session-manager/pkg/session"
	"github.com/redmist-racing/timing-session-manager/pkg/utils"
)

var (
	eventName         string
	gridCheckInterval string
)

//nolint:funlen // flag definitions
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "starts the session state processing server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer()
		},
	}
	cmd.Flags().IntVar(&config.EventID,
		"event-id",
		0,
		"id of the event to process")
	cmd.Flags().StringVar(&eventName,
		"event-name",
		"",
		"display name of the event")
	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	cmd.Flags().StringVar(&config.SQLLogLevel,
		"sql-log-level",
		"debug",
		"controls the log level for sql methods")
	cmd.Flags().StringVar(&config.LogFormat,
		"log-format",
		"json",
		"controls the log output format")
	cmd.Flags().StringVar(&config.LogConfig,
		"log-config",
		"",
		"path to a yaml file with per-namespace log filters")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")
	cmd.Flags().StringVar(&config.StaleDuration,
		"stale-duration",
		"1m",
		"cars without new data for this duration are marked stale")
	cmd.Flags().StringVar(&config.CheckInterval,
		"check-interval",
		"30s",
		"interval between consistency checks")
	cmd.Flags().StringVar(&config.RecheckInterval,
		"recheck-interval",
		"5s",
		"check interval while the state is inconsistent")
	cmd.Flags().IntVar(&config.MaxConsistencyErrors,
		"max-consistency-errors",
		3,
		"consecutive check failures before a relay reset is requested")
	cmd.Flags().StringVar(&config.ForceResetWindow,
		"force-reset-window",
		"10m",
		"a reset this soon after the previous one escalates to a hard reset")
	cmd.Flags().StringVar(&config.MinForceResetInterval,
		"min-force-reset-interval",
		"1m",
		"minimum distance between hard resets")
	cmd.Flags().StringVar(&gridCheckInterval,
		"grid-check-interval",
		"15s",
		"interval between starting grid reconstruction attempts")
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Warn("invalid duration value, using default",
			log.String("value", val),
			log.Duration("default", defaultVal))
		return defaultVal
	}
	return d
}

//nolint:funlen,cyclop // component wiring
func startServer() error {
	logger, sqlLogger := setupLoggers()
	log.ResetDefault(logger)

	if config.EventID <= 0 {
		return fmt.Errorf("a valid --event-id is required")
	}

	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // local profiling endpoint
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	waitForRequiredServices()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var telemetry *config.Telemetry
	pgTraceOption := postgres.WithLogTracer(sqlLogger)
	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		var err error
		if telemetry, err = config.SetupTelemetry(ctx); err == nil {
			pgTraceOption = postgres.WithOtelTracer()
		} else {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}

	log.Info("Starting server", log.Int("eventID", config.EventID))
	pool, err := postgres.InitWithURL(ctx, config.DB, pgTraceOption)
	if err != nil {
		log.Error("could not connect to database", log.ErrorField(err))
		return err
	}
	defer pool.Close()

	nc, err := nats.Connect(config.NatsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1))
	if err != nil {
		log.Error("could not connect to NATS", log.ErrorField(err))
		return err
	}

	relay := natsrelay.NewRelay(nc,
		natsrelay.WithSubjectPrefix(config.NatsSubjectPrefix))

	sessionCtx := session.NewContext(ctx, config.EventID, eventName)
	lapStore := lap.NewStore(pool)
	flagStore := flagledger.NewStore(pool)

	pitProc := pit.NewProcessor(sessionCtx, config.EventID,
		pit.WithLoopSource(
			func(ctx context.Context, eventID int) ([]model.LoopMetadata, error) {
				return loopmeta.LoadByEventID(ctx, pool, eventID)
			}))
	flagProc := flags.NewProcessor(config.EventID, flagStore)
	gridProc := grid.NewProcessor(sessionCtx, config.EventID, lapStore)

	pl := pipeline.NewPipeline(sessionCtx, config.EventID,
		pipeline.WithProcessor(model.TagLineProtocol, rmonitor.NewProcessor(sessionCtx)),
		pipeline.WithProcessor(model.TagLoopPassing, pitProc),
		pipeline.WithProcessor(model.TagEventChanged, pitProc),
		pipeline.WithFlagLedger(flagProc),
		pipeline.WithStaleDuration(parseDuration(config.StaleDuration, time.Minute)))

	if err := relay.SubscribeTimingMessages(config.EventID, pl); err != nil {
		log.Error("could not subscribe timing messages", log.ErrorField(err))
		return err
	}
	go relay.PublishStates(ctx, config.EventID, pl.Subscribe())

	lapLogger := laplog.NewService(config.EventID, lapStore, pitProc)
	go lapLogger.Run(ctx, pl.Subscribe())

	checker := consistency.NewService(config.EventID, sessionCtx, relay,
		consistency.WithCheckInterval(
			parseDuration(config.CheckInterval, 30*time.Second)),
		consistency.WithRecheckInterval(
			parseDuration(config.RecheckInterval, 5*time.Second)),
		consistency.WithMaxConsistencyErrors(config.MaxConsistencyErrors),
		consistency.WithForceResetWindow(
			parseDuration(config.ForceResetWindow, 10*time.Minute)),
		consistency.WithMinForceResetInterval(
			parseDuration(config.MinForceResetInterval, time.Minute)))
	go checker.Run(ctx)

	go runGridCheck(ctx, gridProc,
		parseDuration(gridCheckInterval, 15*time.Second))

	log.Info("Server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	v := <-sigChan
	log.Debug("Got signal ", log.Any("signal", v))

	relay.Close()
	pl.Complete()
	cancel()
	if err := nc.Drain(); err != nil {
		log.Warn("NATS drain failed", log.ErrorField(err))
	}
	if telemetry != nil {
		telemetry.Shutdown()
	}

	log.Info("Server terminated")
	return nil
}

func setupLoggers() (logger, sqlLogger *log.Logger) {
	if config.LogConfig != "" {
		cfg, err := log.LoadConfig(config.LogConfig)
		if err == nil {
			logger, err = log.NewWithConfig(cfg, os.Stderr, config.LogFormat,
				log.WithCaller(true),
				log.AddCallerSkip(1))
			if err == nil {
				go watchLogConfig()
				return logger, logger.Named("sql")
			}
		}
		fmt.Fprintf(os.Stderr, "could not use log config %s: %v\n",
			config.LogConfig, err)
	}
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
		sqlLogger = log.New(
			os.Stderr,
			parseLogLevel(config.SQLLogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	default:
		logger = log.DevLogger(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
		sqlLogger = log.DevLogger(
			os.Stderr,
			parseLogLevel(config.SQLLogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	}
	return logger, sqlLogger
}

// runGridCheck retries starting grid reconstruction until it reports done,
// then keeps watching for new sessions.
func runGridCheck(ctx context.Context, proc *grid.Processor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			proc.CheckHistoricLapStartingPositions(ctx)
		}
	}
}

func waitForRequiredServices() {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}

	wg := sync.WaitGroup{}
	checkTCP := func(addr string) {
		if err = utils.WaitForTCP(addr, timeout); err != nil {
			log.Fatal("required services not ready", log.ErrorField(err))
		}
		wg.Done()
	}

	if postgresAddr := utils.ExtractFromDBURL(config.DB); postgresAddr != "" {
		wg.Add(1)
		go checkTCP(postgresAddr)
	}
	if natsAddr := utils.ExtractFromNatsURL(config.NatsURL); natsAddr != "" {
		wg.Add(1)
		go checkTCP(natsAddr)
	}
	log.Debug("Waiting for connection checks to return")
	wg.Wait()
	log.Debug("Required services are available")
}
