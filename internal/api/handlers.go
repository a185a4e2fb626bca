package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
	"github.com/marketops/repricer/internal/reducer"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultStatsDays    = 7
	maxStatsDays        = 30
)

// triggerCycleRequest is the body for a manual cycle trigger.
type triggerCycleRequest struct {
	DryRun bool `json:"dry_run"`
	Limit  int  `json:"limit"`
}

// triggerCycle runs a price reduction cycle on demand.
// POST /api/v1/cycles
//
// Dry runs bypass the once-per-day guard and never touch remote or local
// state; real runs hit the same guard as the scheduled job.
func (r *Router) triggerCycle(c *gin.Context) {
	var req triggerCycleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	if req.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be non-negative"})
		return
	}

	summary, err := r.cycle.Run(c.Request.Context(), reducer.Options{
		DryRun:  req.DryRun,
		Limit:   req.Limit,
		Trigger: domain.TriggerManual,
	})
	if err != nil {
		if errors.Is(err, domain.ErrCycleAlreadyRan) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "A reduction cycle already completed today",
			})
			return
		}
		r.logger.Error("manual cycle failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cycle failed"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// listDueListings returns the listings that would be picked up by a cycle
// starting now.
// GET /api/v1/cycles/due?limit=100
func (r *Router) listDueListings(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 0)

	due, err := r.listings.ListDue(c.Request.Context(), time.Now(), limit)
	if err != nil {
		handleRepositoryError(c, err, "due listings", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":    len(due),
		"listings": due,
	})
}

// triggerSync runs a reconciliation pull for one tenant on demand.
// POST /api/v1/sync/:tenant_id
func (r *Router) triggerSync(c *gin.Context) {
	tenantID, ok := parseUUID(c, "tenant_id", "tenant")
	if !ok {
		return
	}

	cred, err := r.credentials.GetByTenant(c.Request.Context(), tenantID)
	if err != nil {
		handleRepositoryError(c, err, "credential", "load")
		return
	}
	if !cred.Connected() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Tenant connection is disconnected; reconnect before syncing",
		})
		return
	}

	result, err := r.syncer.Sync(c.Request.Context(), cred)
	if err != nil {
		r.logger.Error("manual sync failed",
			logger.UUID("tenant_id", tenantID),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sync failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// getListing returns one listing.
// GET /api/v1/listings/:id
func (r *Router) getListing(c *gin.Context) {
	id, ok := parseUUID(c, "id", "listing")
	if !ok {
		return
	}

	listing, err := r.listings.GetByID(c.Request.Context(), id)
	if err != nil {
		handleRepositoryError(c, err, "listing", "get")
		return
	}

	c.JSON(http.StatusOK, listing)
}

// getListingHistory returns a listing's reduction history, newest first.
// GET /api/v1/listings/:id/history?limit=50
func (r *Router) getListingHistory(c *gin.Context) {
	id, ok := parseUUID(c, "id", "listing")
	if !ok {
		return
	}

	limit := parseLimit(c.Query("limit"), defaultHistoryLimit)
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := r.audit.ListByListing(c.Request.Context(), id, limit)
	if err != nil {
		handleRepositoryError(c, err, "reduction history", "list")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listing_id": id,
		"count":      len(entries),
		"history":    entries,
	})
}

// getStatsOverview returns aggregated cycle statistics.
// GET /api/v1/stats/overview?days=7
func (r *Router) getStatsOverview(c *gin.Context) {
	if r.tracker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Metrics not enabled"})
		return
	}

	days := parseLimit(c.Query("days"), defaultStatsDays)
	if days <= 0 {
		days = defaultStatsDays
	}
	if days > maxStatsDays {
		days = maxStatsDays
	}

	loc := r.cfg.BusinessLocation()
	now := time.Now().In(loc)
	dates := make([]string, 0, days)
	for i := 0; i < days; i++ {
		dates = append(dates, now.AddDate(0, 0, -i).Format("2006-01-02"))
	}

	stats, err := r.tracker.GetStats(c.Request.Context(), dates)
	if err != nil {
		r.logger.Error("failed to get stats", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// getRecentReductions returns the most recently applied price changes.
// GET /api/v1/stats/reductions/recent?limit=50
func (r *Router) getRecentReductions(c *gin.Context) {
	if r.tracker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Metrics not enabled"})
		return
	}

	limit := parseLimit(c.Query("limit"), defaultHistoryLimit)

	reductions, err := r.tracker.GetRecentReductions(c.Request.Context(), limit)
	if err != nil {
		r.logger.Error("failed to get recent reductions", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get recent reductions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":      len(reductions),
		"reductions": reductions,
	})
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
