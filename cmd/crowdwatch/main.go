package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"crowdwatch/internal/capture"
	"crowdwatch/internal/config"
	"crowdwatch/internal/detect"
	"crowdwatch/internal/input"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/metrics"
	"crowdwatch/internal/persist"
	"crowdwatch/internal/pipeline"
	"crowdwatch/internal/stats"
	"crowdwatch/internal/store"
	"crowdwatch/internal/web"
)

var (
	// Command-line flags
	configPath = flag.String("config", "crowdwatch.toml", "Config file path")
	httpAddr   = flag.String("http", "", "HTTP server address (overrides config)")
	logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor   = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	// Optional .env for local overrides; config.Load reads the variables.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}

	logger.Info("Main", "CrowdWatch starting...")
	logger.Info("Main", "Log level: %s", level)

	if err := run(cfg); err != nil {
		logger.Error("Main", "Fatal: %v", err)
		os.Exit(1)
	}
	logger.Info("Main", "Server stopped")
}

func run(cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	db, err := store.Open(cfg.Persistence.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	records := store.NewRecords(db)

	classifier, err := stats.NewClassifier(bucketsFromConfig(cfg.Stats.Levels))
	if err != nil {
		return err
	}
	aggregator := stats.NewAggregator(cfg.Stats.HistoryMaxLen, classifier)
	snapshots := pipeline.NewSnapshotStore()

	detector, err := detect.New(detect.Options{
		Backend:     cfg.Model.Backend,
		ModelPath:   cfg.Model.ModelPath,
		ConfigPath:  cfg.Model.ConfigPath,
		OnnxLibPath: cfg.Model.OnnxLibPath,
	})
	if err != nil {
		return err
	}
	defer detector.Close()

	source, err := capture.OpenWebcam(cfg.Camera.DeviceID, cfg.Camera.Width,
		cfg.Camera.Height, cfg.Camera.FPS, cfg.Camera.JPEGQuality)
	if err != nil {
		return err
	}
	defer source.Close()

	worker := pipeline.NewWorker(source, detector, aggregator, snapshots, m, pipeline.WorkerConfig{
		DetectionInterval:   cfg.Model.DetectionInterval,
		Capacity:            cfg.Model.Capacity,
		ConfidenceThreshold: cfg.Model.ConfidenceThreshold,
		JPEGQuality:         cfg.Camera.JPEGQuality,
	})

	window, err := persist.NewWindow(cfg.Persistence.WindowStart, cfg.Persistence.WindowEnd)
	if err != nil {
		return err
	}
	throttle := persist.NewThrottle(records, snapshots, m, window, cfg.Persistence.Interval.Duration)

	server := web.NewServer(cfg, snapshots, aggregator, records, throttle, worker, m)

	// Uploads get their own model session so still-image detection never
	// contends with the live pipeline.
	if uploadDetector, err := detect.New(detect.Options{
		Backend:     cfg.Model.Backend,
		ModelPath:   cfg.Model.ModelPath,
		ConfigPath:  cfg.Model.ConfigPath,
		OnnxLibPath: cfg.Model.OnnxLibPath,
	}); err == nil {
		defer uploadDetector.Close()
		server.SetUploadDetector(uploadDetector)
	} else {
		logger.Warn("Main", "Upload detection disabled: %v", err)
	}

	var controller *input.Controller
	if cfg.Input.Enabled {
		if controller, err = openInput(cfg, throttle, snapshots, m); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	// Stop every loop before the deferred Close calls free the capture and
	// detector handles.
	defer stopPipelines(cancel, &wg)
	fatal := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx); err != nil {
			select {
			case fatal <- err:
			default:
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		throttle.Run(ctx)
	}()

	if controller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			controller.Run(ctx)
		}()
	}

	go func() {
		logger.Info("Main", "Metrics server on %s", cfg.HTTP.MetricsAddr)
		if err := m.StartServer(cfg.HTTP.MetricsAddr); err != nil {
			logger.Warn("Main", "Metrics server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case fatal <- err:
			default:
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Main", "Received %v, shutting down...", sig)
	case runErr = <-fatal:
		logger.Error("Main", "Shutting down after fatal error: %v", runErr)
	}
	return runErr
}

// stopPipelines cancels the shared context and waits until every launched
// goroutine has returned.
func stopPipelines(cancel context.CancelFunc, wg *sync.WaitGroup) {
	cancel()
	wg.Wait()
}

func bucketsFromConfig(levels []config.LevelBucket) []stats.Bucket {
	buckets := make([]stats.Bucket, len(levels))
	for i, l := range levels {
		buckets[i] = stats.Bucket{Below: l.Below, Level: l.Level, WaitRange: l.WaitRange}
	}
	return buckets
}

func openInput(cfg config.Config, throttle *persist.Throttle,
	snapshots *pipeline.SnapshotStore, m *metrics.Metrics) (*input.Controller, error) {
	saveButton, err := input.OpenButton(cfg.Input.SaveButtonPin, cfg.Input.ActiveLow)
	if err != nil {
		return nil, err
	}
	drawButton, err := input.OpenButton(cfg.Input.DrawButtonPin, cfg.Input.ActiveLow)
	if err != nil {
		return nil, err
	}
	saveLED, err := input.OpenLED(cfg.Input.SaveLEDPin)
	if err != nil {
		return nil, err
	}
	drawLED, err := input.OpenLED(cfg.Input.DrawLEDPin)
	if err != nil {
		return nil, err
	}
	return input.NewController(saveButton, drawButton, saveLED, drawLED,
		throttle, snapshots, m, cfg.Input), nil
}
