package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/resolveguard/models"
	"github.com/use-agent/resolveguard/selector"
)

// RegisterSelector returns a handler for POST /api/v1/selectors.
func RegisterSelector(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var dto models.SelectorDTO
		if err := c.ShouldBindJSON(&dto); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": &models.ErrorDetail{Code: models.ErrCodeValidation, Message: err.Error()}})
			return
		}

		sel, err := selectorFromDTO(dto)
		if err != nil {
			respondErr(c, gin.H{"success": false}, err)
			return
		}
		if err := d.Registry.Register(sel); err != nil {
			respondErr(c, gin.H{"success": false}, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "selector": selectorToDTO(sel)})
	}
}

// UpdateSelector returns a handler for PUT /api/v1/selectors/:name.
func UpdateSelector(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		var dto models.SelectorDTO
		if err := c.ShouldBindJSON(&dto); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": &models.ErrorDetail{Code: models.ErrCodeValidation, Message: err.Error()}})
			return
		}
		dto.Name = name

		sel, err := selectorFromDTO(dto)
		if err != nil {
			respondErr(c, gin.H{"success": false}, err)
			return
		}
		if err := d.Registry.Update(sel); err != nil {
			respondErr(c, gin.H{"success": false}, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "selector": selectorToDTO(sel)})
	}
}

// UnregisterSelector returns a handler for DELETE /api/v1/selectors/:name.
func UnregisterSelector(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		d.Registry.Unregister(name)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// GetSelector returns a handler for GET /api/v1/selectors/:name.
func GetSelector(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		sel, err := d.Registry.Get(name)
		if err != nil {
			respondErr(c, gin.H{"success": false}, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "selector": selectorToDTO(sel)})
	}
}

// ListSelectors returns a handler for GET /api/v1/selectors. An optional
// ?tab_context= query param scopes the listing.
func ListSelectors(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		tabContext := c.Query("tab_context")
		sels := d.Registry.List(tabContext)
		dtos := make([]models.SelectorDTO, 0, len(sels))
		for _, s := range sels {
			dtos = append(dtos, selectorToDTO(s))
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "selectors": dtos})
	}
}

// SelectorStats returns a handler for GET /api/v1/selectors/:name/stats:
// the registry's confidence-threshold/usage bookkeeping plus rolling
// confidence statistics over this process's recent resolve history.
func SelectorStats(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		sel, err := d.Registry.Get(name)
		if err != nil {
			respondErr(c, gin.H{"success": false}, err)
			return
		}

		dto := selectorToDTO(sel)
		hist := d.history.snapshot(name)
		stats := selector.ComputeStatistics(hist)

		c.JSON(http.StatusOK, models.SelectorStatsResponse{
			Name:                sel.Name,
			UsageCount:          sel.UsageCount,
			LastUsed:            dto.LastUsed,
			ConfidenceThreshold: sel.ConfidenceThreshold,
			Strategies:          dto.Strategies,
			Rolling: models.RollingStatsDTO{
				Count:          stats.Count,
				SuccessCount:   stats.SuccessCount,
				MeanConfidence: stats.MeanConfidence,
				MinConfidence:  stats.MinConfidence,
				MaxConfidence:  stats.MaxConfidence,
			},
		})
	}
}
