package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/codyseavey/tcg-portfolio/internal/api"
	"github.com/codyseavey/tcg-portfolio/internal/config"
	"github.com/codyseavey/tcg-portfolio/internal/database"
	"github.com/codyseavey/tcg-portfolio/internal/events"
	"github.com/codyseavey/tcg-portfolio/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	conversionRate, err := decimal.NewFromString(cfg.SealedConversionRate)
	if err != nil {
		log.Fatalf("Invalid SEALED_CONVERSION_RATE %q: %v", cfg.SealedConversionRate, err)
	}

	if err := database.Initialize(cfg.DBPath, cfg.DBDebug); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := database.GetDB()

	// Create a cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Result cache, optionally shared through Redis
	var remote services.RemoteResultStore
	if cfg.RedisURL != "" {
		store, err := services.NewRedisResultStore(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Redis unavailable, using local result cache only: %v", err)
		} else {
			defer store.Close()
			remote = store
		}
	}
	resultCache, err := services.NewResultCache(cfg.ResultCacheSize, remote)
	if err != nil {
		log.Fatalf("Failed to create result cache: %v", err)
	}

	// Domain events always go to the log; AMQP is optional
	var publisher events.Publisher = events.LogPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchangePrefix)
		if err != nil {
			log.Printf("Warning: AMQP unavailable, events will only be logged: %v", err)
		} else {
			defer amqpPublisher.Close()
			publisher = events.Fanout{events.LogPublisher{}, amqpPublisher}
		}
	}

	// Singles load in the background; searches answer 503 until it finishes
	singles := services.NewSinglesCatalog(cfg.DataDir, db)
	go func() {
		start := time.Now()
		if err := singles.Load(ctx); err != nil {
			log.Printf("Failed to load singles catalog: %v", err)
			return
		}
		log.Printf("Singles catalog loaded in %v", time.Since(start).Round(time.Millisecond))
	}()

	var sealed services.SealedSource
	if cfg.SealedAPIURL != "" {
		sealed = services.NewSealedCatalog(cfg.SealedAPIURL, cfg.SealedAPIKey, cfg.SealedAPIRPS)
	} else {
		log.Println("SEALED_API_URL not set, sealed products disabled")
	}

	searchService := services.NewSearchService(singles, sealed, resultCache, services.SearchOptions{
		SourceTimeout:      cfg.SourceTimeout,
		ConversionRate:     conversionRate,
		ExcludedExpansions: cfg.ExcludedSets,
	})

	facetEngine, err := services.NewFacetEngine(cfg.FacetMemoSize)
	if err != nil {
		log.Fatalf("Failed to create facet engine: %v", err)
	}
	sessionManager, err := services.NewSessionManager(searchService, facetEngine, publisher, cfg.SessionCapacity, cfg.FilterDebounce)
	if err != nil {
		log.Fatalf("Failed to create session manager: %v", err)
	}
	defer sessionManager.Close()

	priceService := services.NewPriceService(db)
	ledger := services.NewGormLedgerStore(db)
	aggregateService := services.NewAggregateService(ledger, priceService)
	orderService := services.NewOrderService(ledger, searchService, aggregateService, publisher)

	// Initialize snapshot service for daily value tracking
	snapshotService := services.NewSnapshotService(db, aggregateService, cfg.SnapshotCheckInterval)

	var priceWorker *services.PriceWorker
	if cfg.PriceFeedURL != "" {
		feed := services.NewPriceFeedClient(cfg.PriceFeedURL, cfg.PriceFeedAPIKey, cfg.PriceFeedDailyLimit)
		priceWorker = services.NewPriceWorker(db, priceService, feed, searchService, cfg.PriceUpdateInterval, cfg.PriceBatchSize)

		// Start price worker in background with panic recovery
		go func() {
			for {
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in price worker: %v - restarting in 30 seconds", r)
						}
					}()
					priceWorker.Start(ctx)
				}()

				select {
				case <-ctx.Done():
					return // Graceful shutdown
				case <-time.After(30 * time.Second):
					log.Println("Price worker restarting after panic recovery...")
				}
			}
		}()
	} else {
		log.Println("PRICE_FEED_URL not set, background price refresh disabled")
	}

	// Start snapshot service in background
	go snapshotService.Start(ctx)

	router := api.SetupRouter(cfg, api.Services{
		Search:      searchService,
		Sessions:    sessionManager,
		Orders:      orderService,
		Aggregates:  aggregateService,
		Snapshots:   snapshotService,
		Prices:      priceService,
		PriceWorker: priceWorker,
	})

	// Create HTTP server for graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Cancel the context to stop the workers
	cancel()

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
