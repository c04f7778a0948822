package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andrewpyen/arcpy-automated-map-creation/config"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/cancel"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/engine"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/observability"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/queue"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/router"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/runner"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/service"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/storage"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/zipreg"
	"github.com/andrewpyen/arcpy-automated-map-creation/log"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:          "mapsrv",
	Short:        "Automated survey map creation service",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the map creation API server",
	RunE:  runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "mark jobs stranded in processing or cancelling as failed",
	RunE:  runSweep,
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "print the engine dependency report",
	RunE:  runDiagnose,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("version: %s\ncommit: %s\ndate: %s\n", version, commit, date)
	},
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(serveCmd, sweepCmd, diagnoseCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// boot initializes logging and configuration, shared by every subcommand.
func boot() error {
	log.InitLogger()

	created, err := config.LoadOrCreateConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if created {
		if path, err := config.ResolveConfigPath(); err == nil {
			log.GetLogger().Info("Wrote default configuration", zap.String("path", path))
		}
	}
	if err := config.CheckConfig(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := boot(); err != nil {
		return err
	}
	defer log.GetLogger().Sync()

	storage.InitDB()
	store := storage.Default()

	states := engine.ResolveEngineInventory()
	log.GetLogger().Info(engine.FormatDependencyReport(states))
	for _, state := range states {
		if state.Tier == engine.DependencyTierMust && state.Status != engine.DependencyStatusOK {
			return fmt.Errorf("required dependency %q is %s", state.Name, state.Status)
		}
	}

	ctx := context.Background()
	metrics, metricsHandler, err := observability.NewMetrics(ctx, prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	storage.OnStatusWriteRetry = func() { metrics.RecordStatusWriteRetry(ctx) }

	surveys, err := config.LoadSurveyTypes(config.Conf.Surveys.DefinitionFile)
	if err != nil {
		return fmt.Errorf("load survey definitions: %w", err)
	}

	var zips *zipreg.Registry
	if config.Conf.Registry.Dir != "" {
		zips = zipreg.New(config.Conf.Registry.Dir)
		rescan := time.Duration(config.Conf.Registry.RescanMinutes) * time.Minute
		if err := zips.Start(ctx, rescan); err != nil {
			return fmt.Errorf("start zip registry: %w", err)
		}
		defer zips.Stop()
	} else {
		log.GetLogger().Warn("Zip registry directory not configured; registry submissions disabled")
	}

	svc, err := service.NewService(store, cancel.NewRegistry(), zips, surveys, metrics)
	if err != nil {
		return err
	}

	// Dispatch backend: single-host installs run jobs in-process, larger
	// deployments push them through Redis to separate worker processes.
	var stopDispatch func()
	if config.Conf.Queue.Enabled {
		q := queue.NewQueue(queue.QueueConfig{
			RedisAddr:     config.Conf.Queue.RedisAddr,
			RedisPassword: config.Conf.Queue.RedisPassword,
			RedisDB:       config.Conf.Queue.RedisDB,
			Concurrency:   config.Conf.Queue.Concurrency,
		})
		go func() {
			if err := queue.StartWorker(q, svc); err != nil {
				log.GetLogger().Error("Queue worker stopped", zap.Error(err))
			}
		}()
		svc.Dispatch = func(jobID, surveyType string) error {
			return q.EnqueueMapJob(queue.MapJobPayload{JobID: jobID, SurveyType: surveyType})
		}
		stopDispatch = func() {
			if err := q.Close(); err != nil {
				log.GetLogger().Warn("Queue shutdown error", zap.Error(err))
			}
		}
	} else {
		jobs := runner.New(svc, runner.Config{
			QueueSize:   config.Conf.Runner.QueueSize,
			Concurrency: config.Conf.Runner.Concurrency,
		})
		svc.Dispatch = func(jobID, surveyType string) error {
			return jobs.SubmitMapJob(runner.MapJobPayload{JobID: jobID, SurveyType: surveyType})
		}
		stopDispatch = jobs.Close
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	router.SetupRouter(r, svc, metrics, metricsHandler, version)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Conf.Server.Host, config.Conf.Server.Port),
		Handler: r,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.GetLogger().Info("Starting API server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.GetLogger().Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		stopDispatch()
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.GetLogger().Warn("HTTP shutdown error", zap.Error(err))
	}

	// Drain after the listener closes so accepted submissions still run.
	stopDispatch()
	log.GetLogger().Info("Shutdown complete")
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	if err := boot(); err != nil {
		return err
	}
	defer log.GetLogger().Sync()

	storage.InitDB()
	count, err := storage.Default().MarkStaleJobs()
	if err != nil {
		return fmt.Errorf("mark stale jobs: %w", err)
	}
	fmt.Printf("marked %d stale job(s) as failed\n", count)
	return nil
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	if err := boot(); err != nil {
		return err
	}
	defer log.GetLogger().Sync()

	fmt.Println(engine.FormatDependencyReport(engine.ResolveEngineInventory()))
	return nil
}
