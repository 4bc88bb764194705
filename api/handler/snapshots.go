package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetSnapshot returns a handler for GET /api/v1/snapshots/:id.
func GetSnapshot(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		snap, err := d.Snapshots.Read(id)
		if err != nil {
			respondErr(c, gin.H{"success": false}, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"snapshot": gin.H{
				"id":            snap.ID,
				"selector_name": snap.SelectorName,
				"snapshot_type": string(snap.SnapshotType),
				"created_at":    formatTime(snap.CreatedAt),
				"file_size":     snap.FileSize,
				"dom_content":   snap.DOMContent,
				"metadata": gin.H{
					"page_url":       snap.Metadata.PageURL,
					"tab_context":    snap.Metadata.TabContext,
					"user_agent":     snap.Metadata.UserAgent,
					"failure_reason": snap.Metadata.FailureReason,
				},
			},
		})
	}
}
