package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chloecircle/chloecircle/app/repository"
	"github.com/chloecircle/chloecircle/internal/pkg/billing"
	"github.com/chloecircle/chloecircle/internal/pkg/cache"
	"github.com/chloecircle/chloecircle/internal/pkg/database"
	"github.com/chloecircle/chloecircle/internal/pkg/env"
	"github.com/chloecircle/chloecircle/internal/pkg/metrics"
	"github.com/chloecircle/chloecircle/internal/pkg/metrics/counter"
	"github.com/chloecircle/chloecircle/internal/pkg/router"
)

const counterFlushInterval = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, views := NewApplication()
	go views.Run(ctx, counterFlushInterval)

	go func() {
		<-ctx.Done()
		log.Println("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Shutdown failed: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}

	// Apply views still buffered in Redis
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := views.Flush(flushCtx); err != nil {
		log.Printf("Final view counter flush failed: %v", err)
	}
}

func NewApplication() (*fiber.App, *counter.Counter) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/chloecircle to project root
		"../../../", // Fallback
	}

	// Find the correct base path
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}

	if basePath == "" {
		panic("Could not find project root directory")
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // webhook and JSON bodies only
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// prometheus metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	billingMetrics := metrics.NewBillingMetrics(reg, "chloecircle")

	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "change-me"),
		},
	}), adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	db := database.GetDB()
	tierTTL := cache.DefaultAccessTierTTL
	if secs, err := strconv.Atoi(env.GetEnv("ACCESS_TIER_TTL_SECONDS", "")); err == nil && secs > 0 {
		tierTTL = time.Duration(secs) * time.Second
	}
	tierCache := cache.NewAccessTierCache(cache.GetClient(), tierTTL)
	views := counter.New(cache.GetClient(), db)

	billingService := billing.NewServiceFromDB(db, billing.ServiceDeps{
		Settings: repository.NewSettingRepository(db),
		Metrics:  billingMetrics,
		Access:   tierCache,
	})

	rateLimit, _ := strconv.Atoi(env.GetEnv("API_RATE_LIMIT", "60"))

	// ROUTER
	router.InstallRouter(app, router.Deps{
		DB:        db,
		Billing:   billingService,
		TierCache: tierCache,
		Views:     views,
		RateLimit: rateLimit,
	})

	return app, views
}
