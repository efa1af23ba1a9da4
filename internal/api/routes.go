package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codyseavey/tcg-portfolio/internal/api/handlers"
	"github.com/codyseavey/tcg-portfolio/internal/config"
	"github.com/codyseavey/tcg-portfolio/internal/metrics"
	"github.com/codyseavey/tcg-portfolio/internal/services"
)

// UserHeader carries the caller's user id; requests without it act as DEFAULT_USER_ID
const UserHeader = "X-User-ID"

// Services are the dependencies the router wires into handlers.
// PriceWorker is nil when no price feed is configured.
type Services struct {
	Search      *services.SearchService
	Sessions    *services.SessionManager
	Orders      *services.OrderService
	Aggregates  *services.AggregateService
	Snapshots   *services.SnapshotService
	Prices      *services.PriceService
	PriceWorker *services.PriceWorker
}

func SetupRouter(cfg *config.Config, svc Services) *gin.Engine {
	router := gin.Default()
	router.Use(metrics.GinMiddleware())

	corsConfig := cors.DefaultConfig()
	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", UserHeader}
	corsConfig.AllowCredentials = false
	router.Use(cors.New(corsConfig))

	identity := services.ContextIdentity{Fallback: cfg.DefaultUserID}

	searchHandler := handlers.NewSearchHandler(svc.Search)
	sessionHandler := handlers.NewSessionHandler(svc.Sessions, svc.Orders, identity)
	orderHandler := handlers.NewOrderHandler(svc.Orders, identity)
	collectionHandler := handlers.NewCollectionHandler(svc.Aggregates, svc.Snapshots, identity)
	priceHandler := handlers.NewPriceHandler(svc.Prices, svc.PriceWorker, svc.Search)

	api := router.Group("/api")
	api.Use(identityMiddleware())
	{
		api.GET("/search", searchHandler.Search)
		api.GET("/expansions", searchHandler.ListExpansions)

		sessions := api.Group("/sessions")
		{
			sessions.POST("", sessionHandler.CreateSession)
			sessions.GET("/:id", sessionHandler.GetSession)
			sessions.DELETE("/:id", sessionHandler.DeleteSession)
			sessions.PATCH("/:id/query", sessionHandler.UpdateQuery)
			sessions.POST("/:id/filters", sessionHandler.ToggleFilter)
			sessions.DELETE("/:id/filters", sessionHandler.ClearFilters)
			sessions.POST("/:id/flush", sessionHandler.Flush)
			sessions.GET("/:id/facets", sessionHandler.FacetCounts)
			sessions.POST("/:id/more", sessionHandler.LoadMore)
			sessions.POST("/:id/retry", sessionHandler.Retry)
			sessions.POST("/:id/cart", sessionHandler.AddToCart)
			sessions.PATCH("/:id/cart/:item", sessionHandler.UpdateCartLine)
			sessions.DELETE("/:id/cart/:item", sessionHandler.RemoveCartLine)
			sessions.POST("/:id/commit", sessionHandler.Commit)
		}

		orders := api.Group("/orders")
		{
			orders.GET("", orderHandler.ListOrders)
			orders.POST("/:id/sell", orderHandler.MarkSold)
			orders.DELETE("/:id", orderHandler.DeleteOrder)
			orders.DELETE("/groups/:group", orderHandler.DeleteGroup)
		}

		collection := api.Group("/collection")
		{
			collection.GET("/aggregate", collectionHandler.GetAggregate)
			collection.GET("/history", collectionHandler.GetValueHistory)
			collection.GET("/snapshots", collectionHandler.GetSnapshots)
			collection.POST("/snapshots", collectionHandler.TakeSnapshot)
		}

		admin := api.Group("/admin/prices")
		{
			admin.POST("", priceHandler.ImportPrices)
			admin.GET("/status", priceHandler.GetPriceStatus)
			admin.POST("/:card_id/refresh", priceHandler.RefreshCardPrice)
		}
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	frontendPath := cfg.FrontendDistPath
	if frontendPath != "" && dirExists(frontendPath) {
		indexPath := filepath.Join(frontendPath, "index.html")

		router.Static("/assets", filepath.Join(frontendPath, "assets"))
		router.StaticFile("/vite.svg", filepath.Join(frontendPath, "vite.svg"))
		router.GET("/", func(c *gin.Context) {
			c.File(indexPath)
		})

		// SPA fallback - serve index.html for all non-API routes
		router.NoRoute(func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, "/api") {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.File(indexPath)
		})
	}

	return router
}

// identityMiddleware stores the X-User-ID header on the request context
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := strings.TrimSpace(c.GetHeader(UserHeader)); userID != "" {
			c.Request = c.Request.WithContext(services.WithUser(c.Request.Context(), userID))
		}
		c.Next()
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
