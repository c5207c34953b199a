package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/vkcommunities/api"
	"github.com/brettboylen/vkcommunities/collector"
	"github.com/brettboylen/vkcommunities/db"
	"github.com/brettboylen/vkcommunities/metrics"
	"github.com/brettboylen/vkcommunities/utils"
)

const (
	jobAll         = "all"
	jobCommunities = "communities"
	jobWalls       = "walls"

	// longer than the HTTP timeout of an in-flight API call
	shutdownTimeout = 70 * time.Second
)

// loop is a scheduler started by main
type loop interface {
	Run(ctx context.Context) error
	Status() collector.Status
}

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	logLevel := flag.String("log-level", "debug", "Logging level (debug, info, warn, error)")
	job := flag.String("job", jobAll, "Loops to run (all, communities, walls)")
	seedPath := flag.String("seed", "", "File with community ids to add before starting")
	flag.Parse()

	log := setupLogger(*logLevel)
	log.Info("Starting VK Communities")

	if *job != jobAll && *job != jobCommunities && *job != jobWalls {
		log.WithField("job", *job).Fatal("Unknown job")
	}

	config, err := utils.LoadConfig(*envPath, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log.WithFields(logrus.Fields{
		"job":          *job,
		"driver":       config.Database.Driver,
		"request_rate": config.VK.RequestDelay,
		"wall_rate":    config.VK.WallRequestDelay,
		"server_port":  config.Server.Port,
	}).Info("Configuration loaded")

	database, err := db.NewDatabase(config.Database.Driver, config.Database.DSN, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *seedPath != "" {
		if err := seedCommunities(ctx, database, *seedPath, log); err != nil {
			log.WithError(err).Fatal("Failed to seed communities")
		}
	}

	tokens, err := database.EnabledTokens(ctx)
	if err != nil {
		log.WithError(err).Fatal("Failed to load API tokens")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	client, err := api.NewClient(tokens, api.Options{
		BaseURL:          config.VK.BaseURL,
		Version:          config.VK.Version,
		RequestDelay:     config.VK.RequestDelay,
		WallRequestDelay: config.VK.WallRequestDelay,
		HTTPTimeout:      config.VK.HTTPTimeout,
		Metrics:          m,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create VK API client")
	}

	var loops []loop
	if *job == jobAll || *job == jobCommunities {
		loops = append(loops, collector.NewCommunityUpdater(client, database, collector.CommunityConfig{
			UpdatePeriod: config.Collector.CommunityUpdatePeriod,
			BufferSize:   config.Collector.CommunitiesBufferSize,
		}, m, log))
	}
	if *job == jobAll || *job == jobWalls {
		loops = append(loops, collector.NewWallUpdater(client, database, collector.WallConfig{
			UpdatePeriod:          config.Collector.WallUpdatePeriod,
			StatsPeriod:           config.Collector.WallStatsPeriod,
			DefaultUpdateDuration: config.VK.WallRequestDelay,
		}, m, log))
	}

	if config.Server.Port != 0 {
		go startEchoServer(ctx, config.Server.Port, database, loops, reg, log, config.Server.MaxRequestsPerMinute)
	}

	var wg sync.WaitGroup
	stopped := startLoops(ctx, loops, &wg, log)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if failed := waitForShutdown(signals, stopped, cancel, &wg, log); failed {
		// let the supervisor restart the process
		database.Close()
		os.Exit(1)
	}
}

// startLoops runs every loop in its own goroutine. A loop that stops for
// any reason other than cancellation is reported on the returned channel.
func startLoops(ctx context.Context, loops []loop, wg *sync.WaitGroup, log *logrus.Logger) <-chan error {
	stopped := make(chan error, len(loops))

	for _, l := range loops {
		wg.Add(1)
		go func(l loop) {
			defer wg.Done()
			err := l.Run(ctx)
			if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
				return
			}

			entry := log.WithField("loop", l.Status().Loop)
			switch {
			case err == nil:
				err = fmt.Errorf("loop %s returned", l.Status().Loop)
				entry.Error("Loop stopped unexpectedly")
			case errors.Is(err, collector.ErrNoCommunities):
				entry.Error("No communities to update, seed the database first")
			default:
				entry.WithError(err).Error("Loop stopped unexpectedly")
			}
			stopped <- err
		}(l)
	}

	return stopped
}

// setupLogger sets up the logger with the specified log level
func setupLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// seedCommunities adds the community ids listed in path, separated by
// commas, spaces or newlines
func seedCommunities(ctx context.Context, database *db.Database, path string, log *logrus.Logger) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer file.Close()

	var ids []int64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.FieldsFunc(scanner.Text(), func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		for _, field := range fields {
			id, err := strconv.ParseInt(field, 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid community id %q", field)
			}
			ids = append(ids, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	added, err := database.AddCommunities(ctx, ids, time.Now())
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"file":  path,
		"ids":   len(ids),
		"added": added,
	}).Info("Communities seeded")
	return nil
}

// startEchoServer starts the Echo status server
func startEchoServer(ctx context.Context, port int, database *db.Database, loops []loop, reg *prometheus.Registry, log *logrus.Logger, maxRequestsPerMinute int) {
	e := echo.New()
	e.HideBanner = true

	// middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	requestsPerSecond := float64(maxRequestsPerMinute) / 60.0

	rateLimiterConfig := middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			// probes and scrapes are not throttled
			return c.Path() == "/healthz" || c.Path() == "/metrics"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(requestsPerSecond),
				Burst:     1,
				ExpiresIn: 3 * time.Minute,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded, please try again later",
			})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded, please try again later",
			})
		},
	}
	e.Use(middleware.RateLimiterWithConfig(rateLimiterConfig))

	e.GET("/api/status", func(c echo.Context) error {
		count, err := database.CountCommunities(c.Request().Context())
		if err != nil {
			log.WithError(err).Error("Failed to count communities")
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "Failed to read the database",
			})
		}

		statuses := make([]collector.Status, 0, len(loops))
		for _, l := range loops {
			statuses = append(statuses, l.Status())
		}

		return c.JSON(http.StatusOK, map[string]any{
			"communities": count,
			"loops":       statuses,
		})
	})

	e.GET("/api/communities/:id", communityHandler(database, log))

	e.GET("/healthz", func(c echo.Context) error {
		if err := database.Ping(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, "database unavailable")
		}
		return c.String(http.StatusOK, "OK")
	})

	e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))

	go func() {
		serverAddr := fmt.Sprintf(":%d", port)
		log.WithField("port", port).Info("Starting status server")
		if err := e.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Status server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down status server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Status server shutdown failed")
	}
}

// communityHandler serves a tracked community with its follower history
// and stored posts
func communityHandler(database *db.Database, log *logrus.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "Invalid community id",
			})
		}

		ctx := c.Request().Context()
		community, err := database.GetCommunity(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": fmt.Sprintf("Community %d is not tracked", id),
			})
		}
		if err != nil {
			log.WithError(err).WithField("community", id).Error("Failed to get community")
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "Failed to read the database",
			})
		}

		history, err := database.History(ctx, id)
		if err != nil {
			log.WithError(err).WithField("community", id).Error("Failed to get community history")
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "Failed to read the database",
			})
		}

		posts, err := database.GetPostsByCommunity(ctx, id)
		if err != nil {
			log.WithError(err).WithField("community", id).Error("Failed to get community posts")
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "Failed to read the database",
			})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"community": community,
			"history":   history,
			"posts":     posts,
		})
	}
}

// waitForShutdown waits for a shutdown signal or the first failed loop, then
// for the loops to return. In-flight API calls are not interrupted, so the
// wait is bounded. It reports whether a loop failed.
func waitForShutdown(signals <-chan os.Signal, stopped <-chan error, cancel context.CancelFunc, wg *sync.WaitGroup, log *logrus.Logger) bool {
	failed := false
	select {
	case sig := <-signals:
		log.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-stopped:
		log.WithError(err).Error("Shutting down after a loop failure")
		failed = true
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Warn("Loops did not stop in time")
	}
	log.Info("VK Communities stopped")
	return failed
}
