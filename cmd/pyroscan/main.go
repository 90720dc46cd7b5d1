package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/pyroscan/pyroscan/internal/api"
	"github.com/pyroscan/pyroscan/internal/arbiter"
	"github.com/pyroscan/pyroscan/internal/audit"
	"github.com/pyroscan/pyroscan/internal/backup"
	"github.com/pyroscan/pyroscan/internal/broadcast"
	"github.com/pyroscan/pyroscan/internal/config"
	"github.com/pyroscan/pyroscan/internal/health"
	"github.com/pyroscan/pyroscan/internal/logger"
	"github.com/pyroscan/pyroscan/internal/metrics"
	"github.com/pyroscan/pyroscan/internal/paramservice"
	"github.com/pyroscan/pyroscan/internal/reading"
	"github.com/pyroscan/pyroscan/internal/registry"
	"github.com/pyroscan/pyroscan/internal/retention"
	"github.com/pyroscan/pyroscan/internal/scheduler"
	"github.com/pyroscan/pyroscan/internal/sinks/ftpsink"
	"github.com/pyroscan/pyroscan/internal/sinks/influxsink"
	"github.com/pyroscan/pyroscan/internal/sinks/mqttsink"
	"github.com/pyroscan/pyroscan/internal/sqlstore"
	"github.com/pyroscan/pyroscan/internal/transport"
	"github.com/pyroscan/pyroscan/internal/writeback"
)

var Version = "0.1.0"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pyroscan: config load failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		LogDir:     cfg.Logger.LogDir,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 7,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "pyroscan: logger init failed: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()
	log.Info("pyroscan starting", zap.String("version", Version))

	db, err := sqlstore.Open(cfg.Database.URL)
	if err != nil {
		log.Fatal("sqlstore open failed", zap.Error(err))
	}

	reg, err := registry.Open(db)
	if err != nil {
		log.Fatal("registry open failed", zap.Error(err))
	}
	readings, err := reading.Open(db)
	if err != nil {
		log.Fatal("reading store open failed", zap.Error(err))
	}

	hub := broadcast.New(log)

	wb := writeback.New(writeback.DefaultConfig(), readings, log)
	defer wb.Close()

	dial := func(comPort string, baud int) *arbiter.Arbiter {
		tr := transport.New(transport.DefaultConfig(comPort, baud))
		return arbiter.New(tr)
	}

	sched := scheduler.New(scheduler.Config{
		CycleInterval: cfg.Polling.CycleInterval(),
		PollTimeout:   cfg.Polling.PollTimeout(),
	}, reg, dial, wb, hub, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		log.Fatal("scheduler start failed", zap.Error(err))
	}
	defer sched.Stop()

	params := paramservice.New(paramservice.Config{
		MaxPauseWait: cfg.Polling.MaxPauseWait(),
		TxnTimeout:   cfg.Polling.PollTimeout(),
	}, sched, func(comPort string) (paramservice.Submitter, bool) {
		return sched.Resolve(comPort)
	})

	checker := health.NewHealthChecker()
	checker.RegisterCheck("database", health.DatabaseHealthCheck(func(ctx context.Context) error {
		return db.PingContext(ctx)
	}), 30*time.Second)
	checker.RegisterCheck("bus", health.BusHealthCheck(func() []health.BusSnapshot {
		snaps := sched.HealthSnapshots()
		out := make([]health.BusSnapshot, len(snaps))
		for i, s := range snaps {
			out[i] = health.BusSnapshot{Key: s.Key, Cycles: s.Cycles, Errors: s.Errors, Devices: s.Devices}
		}
		return out
	}), 15*time.Second)
	checker.RegisterCheck("goroutines", health.GoroutineHealthCheck(runtime.NumGoroutine, 2000), 30*time.Second)
	go checker.StartPeriodicChecks(ctx)

	m := metrics.NewMetrics()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.UpdateSystemMetrics()
				busStats := sched.Stats()
				var running, paused int64
				for _, b := range busStats {
					if b.State == scheduler.StateRunning {
						running++
					} else if b.State == scheduler.StatePaused {
						paused++
					}
				}
				m.SetBusMetrics(int64(len(busStats)), running, paused)
				devices, err := reg.List(ctx)
				if err == nil {
					var enabled int64
					for _, d := range devices {
						if d.Enabled {
							enabled++
						}
					}
					m.SetDeviceMetrics(int64(len(devices)), enabled)
				}
			}
		}
	}()

	svc := api.New(reg, readings, sched, params, wb, hub, checker, m, cfg.Security.PIN, log)

	wireOptionalSinks(ctx, cfg, reg, readings, hub, svc, log)

	if cfg.DeviceDrop.Dir != "" {
		go reg.WatchConfigDir(ctx, cfg.DeviceDrop.Dir, log)
	}

	app := fiber.New(fiber.Config{AppName: "pyroscan v" + Version})
	app.Use(recover.New())
	app.Use(fiberlog.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, X-Pyroscan-Pin",
	}))

	svc.SetupRoutes(app)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			log.Error("http server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(shutdownCtx)
	_ = wb.Flush(shutdownCtx)
	_ = logger.Sync()
}

// wireOptionalSinks connects every config-enabled secondary sink
// (MQTT/Influx/FTP/S3/Mongo/Redis), each gated on its own Config.Enabled
// check, and starts the retention job when Retention.Days > 0. A disabled
// FTP, S3 or Mongo sink leaves its Service field nil: the backup and audit
// handlers then answer 503, and CSV export skips the FTP archive copy.
func wireOptionalSinks(ctx context.Context, cfg *config.Config, reg *registry.Store, readings *reading.Store, hub *broadcast.Hub, svc *api.Service, log *zap.Logger) {
	if cfg.Redis.Enabled() {
		cache := reading.NewLatestCache(cfg.Redis.Addr, cfg.Redis.TTL())
		ch, unsubscribe := hub.Subscribe()
		go func() {
			defer unsubscribe()
			defer cache.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case r, ok := <-ch:
					if !ok {
						return
					}
					if err := cache.Set(ctx, r); err != nil {
						log.Warn("latest cache set failed", zap.Error(err))
					}
				}
			}
		}()
	}

	if cfg.MQTT.Enabled() {
		sink, err := mqttsink.Connect(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID, cfg.MQTT.Prefix, log)
		if err != nil {
			log.Error("mqtt sink connect failed", zap.Error(err))
		} else {
			go sink.Run(ctx, hub.Subscribe)
		}
	}

	if cfg.Influx.Enabled() {
		sink := influxsink.Connect(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket, log)
		ch, unsubscribe := hub.Subscribe()
		go func() {
			defer unsubscribe()
			defer sink.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case r, ok := <-ch:
					if !ok {
						return
					}
					sink.Write(ctx, r)
				}
			}
		}()
	}

	if cfg.FTP.Enabled() {
		svc.FTP = ftpsink.New(cfg.FTP.Addr, cfg.FTP.User, cfg.FTP.Password, cfg.FTP.RemoteDir)
	}

	if cfg.S3.Enabled() {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.S3.Region)})
		if err != nil {
			log.Error("aws session init failed", zap.Error(err))
		} else {
			svc.Backup = backup.New(sess, cfg.S3.Bucket, cfg.S3.Prefix)
		}
	}

	if cfg.Mongo.Enabled() {
		trail, err := audit.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			log.Error("audit trail connect failed", zap.Error(err))
		} else {
			svc.Audit = trail
		}
	}

	if cfg.Retention.Days > 0 {
		job, err := retention.New(cfg.Retention.Schedule, cfg.Retention.Days, readings, log)
		if err != nil {
			log.Error("retention job init failed", zap.Error(err))
		} else {
			job.Start()
			go func() {
				<-ctx.Done()
				job.Stop()
			}()
		}
	}
}
