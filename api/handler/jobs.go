package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/resolveguard/models"
	"github.com/use-agent/resolveguard/resilience/abort"
	"github.com/use-agent/resolveguard/resolveerr"
)

// JobProgress returns a handler for GET /api/v1/jobs/:id/progress, backed
// by the Checkpoint/Progress tracker (component T).
func JobProgress(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		snap, ok := d.Checkpoints.LatestSnapshot(jobID)
		if !ok {
			respondErr(c, gin.H{"success": false}, resolveerr.New(resolveerr.CodeSelectorNotFound, "no progress recorded for job", map[string]any{"job_id": jobID}, nil))
			return
		}

		milestones := make([]models.MilestoneDTO, 0, len(snap.Milestones))
		for _, m := range snap.Milestones {
			milestones = append(milestones, models.MilestoneDTO{Name: m.Name, Weight: m.Weight, PercentPct: m.PercentPct})
		}

		c.JSON(http.StatusOK, models.JobProgressResponse{
			JobID:      jobID,
			State:      string(snap.State),
			OverallPct: snap.OverallPct,
			Milestones: milestones,
			DurationMS: d.Checkpoints.Duration(jobID).Milliseconds(),
		})
	}
}

// JobAbort returns a handler for POST /api/v1/jobs/:id/abort.
//
// Manual triggers bypass threshold evaluation and run under the zero
// Policy, so they also skip the cooldown and hourly cap. The Executor
// serializes them with other zero-Policy executions; an execution under a
// named policy may run alongside them.
func JobAbort(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		var req models.JobAbortRequest
		_ = c.ShouldBindJSON(&req)
		reason := req.Reason
		if reason == "" {
			reason = "manual abort requested"
		}

		decision := abort.Decision{
			Policy:    "manual",
			Triggered: true,
			Action:    abort.ActionGracefulShutdown,
			Reason:    reason,
		}

		res, err := d.Abort.ExecuteAbortAction(jobID, abort.Policy{}, decision)
		if err != nil {
			c.JSON(http.StatusOK, models.JobAbortResponse{
				Success: false,
				Action:  string(decision.Action),
				Error:   &models.ErrorDetail{Code: models.ErrCodeInternal, Message: err.Error()},
			})
			return
		}

		if d.Checkpoints != nil {
			d.Checkpoints.CancelProgress(jobID)
		}

		c.JSON(http.StatusOK, models.JobAbortResponse{
			Success: res.Success,
			Action:  string(res.Action),
		})
	}
}
