package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ppe-sentinel/internal/api"
	"github.com/technosupport/ppe-sentinel/internal/camconfig"
	"github.com/technosupport/ppe-sentinel/internal/classcache"
	"github.com/technosupport/ppe-sentinel/internal/config"
	"github.com/technosupport/ppe-sentinel/internal/data"
	"github.com/technosupport/ppe-sentinel/internal/events"
	"github.com/technosupport/ppe-sentinel/internal/metrics"
	"github.com/technosupport/ppe-sentinel/internal/notify"
	"github.com/technosupport/ppe-sentinel/internal/pipeline"
	"github.com/technosupport/ppe-sentinel/internal/preview"
	"github.com/technosupport/ppe-sentinel/internal/recap"
	"github.com/technosupport/ppe-sentinel/internal/schedule"
	"github.com/technosupport/ppe-sentinel/internal/storage"
	"github.com/technosupport/ppe-sentinel/internal/supervisor"
)

const serviceName = "ppe-sentinel"

func main() {
	// Config
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/default.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	loc := cfg.ScheduleLocation()

	// Database
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}
	defer db.Close()

	// Redis (frame mirror). Optional: a dead Redis degrades mirroring only.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: redis ping failed: %v. Frame mirroring degraded.", err)
	}

	// NATS (violation bus). Optional for the same reason.
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL, nats.Name(serviceName), nats.MaxReconnects(-1))
		if err != nil {
			log.Printf("Warning: NATS connect failed: %v. Bus publishing disabled.", err)
			nc = nil
		} else {
			defer nc.Close()
		}
	}

	// Evidence storage
	if cfg.StorageURL == "" {
		log.Printf("Warning: STORAGE_URL not set. Evidence uploads will fail.")
	}
	store := storage.NewClient(cfg.StorageURL, cfg.StorageKey, cfg.Storage.Bucket)

	// Data layer
	cameraModel := data.CameraModel{DB: db}
	classModel := data.ObjectClassModel{DB: db}
	scheduleModel := data.ScheduleModel{DB: db}
	emailModel := data.EmailSettingsModel{DB: db}
	detectionModel := data.DetectionSettingsModel{DB: db}
	templateModel := data.EmailTemplateModel{DB: db}
	userModel := data.UserModel{DB: db}
	violationModel := data.ViolationModel{DB: db}
	violationConfigModel := data.ViolationConfigModel{DB: db}

	// Caches and live settings
	classes := classcache.NewCache(classModel, 10*time.Minute)
	liveSettings := camconfig.NewSettings(detectionModel, map[string]float64{
		"confidence_threshold": cfg.Pipeline.ConfidenceThresh,
		"padding_percent":      cfg.Pipeline.PaddingPercent,
		"cooldown_seconds":     cfg.Pipeline.CooldownSeconds,
		"cleanup_interval":     cfg.Pipeline.CleanupInterval,
		"frame_skip":           float64(cfg.Pipeline.FrameSkip),
		"queue_size":           float64(cfg.Pipeline.QueueSize),
		"target_max_width":     float64(cfg.Pipeline.TargetMaxWidth),
	})
	camStore := camconfig.NewStore(cameraModel, violationConfigModel, store)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := classes.Refresh(startCtx); err != nil {
		log.Printf("Warning: class cache load failed: %v", err)
	}
	if err := liveSettings.Refresh(startCtx); err != nil {
		log.Printf("Warning: detection settings load failed: %v", err)
	}
	if err := camStore.Refresh(startCtx); err != nil {
		log.Printf("Warning: camera config load failed: %v", err)
	}
	startCancel()

	met := metrics.New()
	frames := pipeline.NewFrames()
	mirror := preview.NewMirror(rdb)
	hub := api.NewViolationHub()

	// Violation bus publisher
	var publisher pipeline.EventPublisher
	if nc != nil {
		dedup := events.NewDedup(cfg.Events.DedupMaxKeys, cfg.Events.DedupTTLSeconds)
		publisher = events.NewPublisher(nc, cfg.Events.NatsSubject, cfg.Events.PublishRetryMax, dedup)
	}

	// Notifications
	notifier := notify.NewService(notify.SMTPMailer{}, emailModel, templateModel, userModel, violationModel, store)

	// Violation processor
	processor := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Workers:   cfg.Pipeline.ProcessorWorkers,
		QueueSize: cfg.Pipeline.ProcessorQueue,
		Location:  loc,
	}, store, violationModel, liveSettings, met, notifier, publisher, hub)
	processor.Start()

	// Inference backend. A missing model or runtime degrades cameras to
	// stream-only rather than killing the service.
	if err := pipeline.InitONNXRuntime(cfg.OrtLibPath); err != nil {
		log.Printf("Warning: onnxruntime init failed: %v. Detection disabled.", err)
	}
	labels, err := pipeline.LoadLabels(cfg.ModelLabels)
	if err != nil {
		log.Printf("Warning: model labels load failed: %v. Detection disabled.", err)
	}
	newDetector := func() (pipeline.TrackingDetector, error) {
		if len(labels) == 0 {
			return nil, err
		}
		det, derr := pipeline.NewONNXDetector(cfg.ModelPath, labels)
		if derr != nil {
			return nil, derr
		}
		return pipeline.NewTrackingDetector(det), nil
	}

	// Fleet
	sched := schedule.NewEvaluator(scheduleModel, loc)
	deps := supervisor.PipelineDeps{
		Frames:          frames,
		Settings:        liveSettings,
		Classes:         classes,
		Active:          camStore,
		Schedule:        sched,
		Sink:            processor,
		Metrics:         met,
		FrameMirror:     mirror,
		DetectionMirror: mirror,
		Capture: pipeline.CaptureConfig{
			FFmpegPath:       cfg.FFmpegPath,
			RetryDelay:       time.Duration(cfg.Pipeline.RetryDelaySeconds) * time.Second,
			MaxRetries:       cfg.Pipeline.MaxRetries,
			FailureThreshold: cfg.Pipeline.FailureThreshold,
		},
		NewDetector: newDetector,
	}
	camSup := supervisor.New(deps.Launch, frames)
	fleet := supervisor.NewFleet(camStore, sched, camSup, met)
	fleet.RefreshState(context.Background())

	// Housekeeping scheduler
	recapSched := recap.NewScheduler(recap.Config{
		Location:      loc,
		RetentionDays: cfg.Schedule.RetentionDays,
		RecapHour:     cfg.Schedule.RecapHour,
		RecapMinute:   cfg.Schedule.RecapMinute,
	}, violationModel, store, notifier, fleet, camStore, classes, liveSettings)
	recapSched.Start()

	// Config file watcher: a changed file pokes the caches, same as the
	// refresh endpoint.
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	config.StartWatcher(watchCtx, cfgPath, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := liveSettings.Refresh(ctx); err != nil {
			log.Printf("Warning: settings refresh on config change failed: %v", err)
		}
		if err := camStore.Refresh(ctx); err != nil {
			log.Printf("Warning: camera refresh on config change failed: %v", err)
		}
		sched.Invalidate()
		fleet.RefreshState(ctx)
	})

	// HTTP
	previewHandler := preview.NewHandler(frames)
	router := api.NewRouter(api.Deps{
		Settings: &api.SettingsHandler{
			Email:     emailModel,
			Detection: detectionModel,
			Live:      liveSettings,
		},
		Ops: &api.OpsHandler{
			Notifier:   notifier,
			Refreshers: []api.ConfigRefresher{classes, camStore, liveSettings},
			Fleet:      fleet,
			Schedule:   sched,
			Location:   loc,
		},
		Hub:       hub,
		VideoFeed: previewHandler.VideoFeed,
		Metrics:   met.Handler(),
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Shutdown
	sigCtx, sigCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer sigCancel()
	<-sigCtx.Done()
	log.Println("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	recapSched.Stop()
	camSup.StopAll()
	processor.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown error: %v", err)
	}
	log.Println("Server stopped gracefully")
}
