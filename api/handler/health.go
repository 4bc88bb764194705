package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/resolveguard/models"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports browser pool utilisation plus per-browser recovery state
// (component R), degrading status when > 80% of pages are active or any
// registered browser is crashed.
func Health(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := models.PoolStats{MaxPages: d.Browser.MaxPages(), ActivePages: d.Browser.ActivePages()}

		status := "healthy"
		if stats.MaxPages > 0 && stats.ActivePages > int(float64(stats.MaxPages)*0.8) {
			status = "degraded"
		}

		var browsers []models.BrowserStatusDTO
		if d.Recovery != nil {
			for _, s := range d.Recovery.GetAllBrowserStatus() {
				if string(s.State) == "crashed" {
					status = "degraded"
				}
				browsers = append(browsers, models.BrowserStatusDTO{
					BrowserID:        s.BrowserID,
					SessionID:        s.SessionID,
					State:            string(s.State),
					RecoveryAttempts: s.RecoveryAttempts,
				})
			}
		}

		var tabs models.TabConcurrencyDTO
		if d.Tabs != nil {
			active := d.Tabs.HealthCheck()
			tabs = models.TabConcurrencyDTO{Active: active.ActiveCount, Capacity: active.Capacity}
		}

		c.JSON(http.StatusOK, models.ExtendedHealthResponse{
			Status:         status,
			Uptime:         time.Since(d.StartTime).Round(time.Second).String(),
			PoolStats:      stats,
			TabConcurrency: tabs,
			Version:        "0.1.0",
			Browsers:       browsers,
		})
	}
}
