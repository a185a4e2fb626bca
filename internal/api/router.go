// Package api exposes the repricer's HTTP surface: manual cycle and sync
// triggers, listing lookups, reduction history, and dashboard stats.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/marketops/repricer/internal/config"
	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
	"github.com/marketops/repricer/internal/metrics"
	"github.com/marketops/repricer/internal/reducer"
	"github.com/marketops/repricer/internal/syncer"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	healthCheckTimeout   = 2 * time.Second
	serviceVersion       = "1.0.0"
)

// CycleRunner runs one price reduction cycle.
type CycleRunner interface {
	Run(ctx context.Context, opts reducer.Options) (*reducer.Summary, error)
}

// TenantSyncer reconciles one tenant against the marketplace.
type TenantSyncer interface {
	Sync(ctx context.Context, cred *domain.Credential) (syncer.Result, error)
}

// ListingReader is the read-only slice of the listing repository the API uses.
type ListingReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Listing, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Listing, error)
}

// AuditReader reads a listing's reduction history.
type AuditReader interface {
	ListByListing(ctx context.Context, listingID uuid.UUID, limit int) ([]domain.PriceReductionLogEntry, error)
}

// CredentialReader loads a tenant's credential for manual sync triggers.
type CredentialReader interface {
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Credential, error)
}

// Router holds the API dependencies
type Router struct {
	db          *sqlx.DB
	redisClient *redis.Client
	cycle       CycleRunner
	syncer      TenantSyncer
	listings    ListingReader
	audit       AuditReader
	credentials CredentialReader
	tracker     metrics.MetricsTracker
	cfg         *config.Config
	logger      logger.Logger
}

// NewRouter creates a new API router
func NewRouter(
	db *sqlx.DB,
	redisClient *redis.Client,
	cycle CycleRunner,
	tenantSyncer TenantSyncer,
	listings ListingReader,
	audit AuditReader,
	credentials CredentialReader,
	tracker metrics.MetricsTracker,
	cfg *config.Config,
	log logger.Logger,
) *Router {
	return &Router{
		db:          db,
		redisClient: redisClient,
		cycle:       cycle,
		syncer:      tenantSyncer,
		listings:    listings,
		audit:       audit,
		credentials: credentials,
		tracker:     tracker,
		cfg:         cfg,
		logger:      log,
	}
}

// SetupRoutes builds the gin engine with middleware and all routes.
func (r *Router) SetupRoutes() *gin.Engine {
	if !r.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(r.cfg.Server.CORSOrigins))

	// Health check (public, no auth)
	router.GET("/health", r.healthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(apiKeyMiddleware(r.cfg.Security.APIKey))

	// Cycle triggers
	cycles := v1.Group("/cycles")
	cycles.POST("", r.triggerCycle)
	cycles.GET("/due", r.listDueListings)

	// Reconciliation triggers
	v1.POST("/sync/:tenant_id", r.triggerSync)

	// Listings
	listings := v1.Group("/listings")
	listings.GET("/:id", r.getListing)
	listings.GET("/:id/history", r.getListingHistory)

	// Stats
	stats := v1.Group("/stats")
	stats.GET("/overview", r.getStatsOverview)
	stats.GET("/reductions/recent", r.getRecentReductions)

	return router
}

// healthCheck returns the service health status
func (r *Router) healthCheck(c *gin.Context) {
	health := gin.H{
		"status":  healthStatusHealthy,
		"service": "repricer",
		"version": serviceVersion,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	dbConnected := true
	if err := r.db.PingContext(ctx); err != nil {
		dbConnected = false
		health["status"] = healthStatusDegraded
	}
	health["database"] = gin.H{
		"connected": dbConnected,
	}

	redisHealth := r.checkRedisHealth(ctx)
	health["redis"] = redisHealth

	if connected, ok := redisHealth["connected"].(bool); ok && !connected {
		if health["status"] == healthStatusHealthy {
			health["status"] = healthStatusDegraded
		}
	}

	c.JSON(200, health)
}

// checkRedisHealth checks Redis connection and returns health info
func (r *Router) checkRedisHealth(ctx context.Context) gin.H {
	if r.redisClient == nil {
		return gin.H{
			"connected": false,
			"error":     "Redis client not initialized",
		}
	}

	if err := r.redisClient.Ping(ctx).Err(); err != nil {
		return gin.H{
			"connected": false,
			"error":     err.Error(),
		}
	}
	return gin.H{
		"connected": true,
	}
}
