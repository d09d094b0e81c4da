// Package statusapi implements the narrow HTTP control plane surface
// (spec.md §6 Non-goals: only /health and /status are in scope — the CRUD
// review routes, AI tagging routes, and dashboard API are explicitly out).
// It is grounded in the teacher's pkg/api/router.go middleware shape.
package statusapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/socialscrape/engine/pkg/dbx"
)

// ScraperStatus is the set of scrapers this process reports on, each
// identified by its system_control script_name.
type ScraperStatus struct {
	Name           string
	StaleThreshold time.Duration
}

// Dependencies is the narrow read surface the router needs: just enough to
// answer liveness and status, nothing that could mutate scraper state.
type Dependencies struct {
	DB        *dbx.DB
	Control   ControlReader
	Scrapers  []ScraperStatus
}

// ControlReader is the only control-plane capability exposed to HTTP.
type ControlReader interface {
	Load(ctx context.Context, scraperName string) (*dbx.ControlRecord, error)
}

// NewRouter builds the gin.Engine exposing /health and /status.
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.Default()
	r.Use(loggingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if err := deps.DB.IsHealthy(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		ctx := c.Request.Context()
		out := make(map[string]gin.H, len(deps.Scrapers))
		overall := http.StatusOK

		for _, s := range deps.Scrapers {
			rec, err := deps.Control.Load(ctx, s.Name)
			if err == dbx.ErrNotFound {
				out[s.Name] = gin.H{"status": "unknown"}
				overall = http.StatusServiceUnavailable
				continue
			}
			if err != nil {
				out[s.Name] = gin.H{"status": "error", "error": err.Error()}
				overall = http.StatusServiceUnavailable
				continue
			}
			stale := rec.IsStale(s.StaleThreshold, time.Now().UTC())
			if stale {
				overall = http.StatusServiceUnavailable
			}
			out[s.Name] = gin.H{
				"enabled":        rec.Enabled,
				"status":         rec.Status,
				"last_heartbeat": rec.LastHeartbeat,
				"stale":          stale,
				"last_error":     rec.LastError,
			}
		}

		c.JSON(overall, gin.H{"scrapers": out})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found", "path": c.Request.URL.Path})
	})

	return r
}

func loggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(p gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %s %s %d %s \"%s\"\n",
			p.TimeStamp.Format("2006-01-02 15:04:05"),
			p.Method, p.Path, p.StatusCode, p.Latency, p.ClientIP)
	})
}
