package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/use-agent/resolveguard/correlation"
	"github.com/use-agent/resolveguard/eventbus"
	"github.com/use-agent/resolveguard/models"
	"github.com/use-agent/resolveguard/selector"
)

const defaultNavigationTimeout = 15 * time.Second

// openResolveContext navigates a fresh page to url and arms the stealth
// orchestrator on it, returning a selector.ResolveContext ready for
// Resolve/ResolveBatch plus a cleanup func the caller must defer.
//
// When fastHTTP is set, it first tries the Chrome-TLS-fingerprinted plain
// HTTP fetch (component A's fast path) and uses that page directly if the
// markup doesn't look JS-dependent, skipping the browser entirely. Stealth
// mode and tab-state tracking require a real browser, so fastHTTP is only
// honoured when stealthMode is false.
func openResolveContext(c *gin.Context, d *Deps, url, tabID, jobID, env string, stealthMode, fastHTTP bool) (selector.ResolveContext, func(), error) {
	if fastHTTP && !stealthMode && d.HTTPFetcher != nil {
		if hp, err := d.HTTPFetcher.FetchPage(c.Request.Context(), url, ""); err == nil && !hp.NeedsRender() {
			return selector.ResolveContext{
				Page:  hp,
				TabID: tabID,
				JobID: jobID,
				Env:   selector.Environment(env),
			}, func() {}, nil
		}
	}

	page, err := d.Browser.NewPage(stealthMode)
	if err != nil {
		return selector.ResolveContext{}, func() {}, err
	}
	cleanup := func() { _ = page.Close() }

	if d.Orchestrator != nil {
		sessionID := uuid.NewString()
		if err := d.Orchestrator.Apply(c.Request.Context(), sessionID, jobID, page); err != nil {
			cleanup()
			return selector.ResolveContext{}, func() {}, err
		}
	}

	if err := page.Navigate(c.Request.Context(), url, defaultNavigationTimeout); err != nil {
		cleanup()
		return selector.ResolveContext{}, func() {}, err
	}

	return selector.ResolveContext{
		Page:  page,
		TabID: tabID,
		JobID: jobID,
		Env:   selector.Environment(env),
	}, cleanup, nil
}

// Resolve returns a handler for POST /api/v1/resolve.
func Resolve(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ResolveAPIRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ResolveAPIResponse{Success: false, Error: &models.ErrorDetail{Code: models.ErrCodeValidation, Message: err.Error()}})
			return
		}

		ctx := correlation.WithID(c.Request.Context(), correlation.New())
		c.Request = c.Request.WithContext(ctx)

		rc, cleanup, err := openResolveContext(c, d, req.URL, req.TabID, req.JobID, req.Env, req.StealthMode, req.FastHTTP)
		if err != nil {
			respondErr(c, gin.H{"success": false}, err)
			return
		}
		defer cleanup()

		res, err := d.Resolver.Resolve(ctx, req.SelectorName, rc)
		if err != nil {
			respondErr(c, gin.H{"success": false}, err)
			return
		}
		d.history.record(res)

		c.JSON(http.StatusOK, models.ResolveAPIResponse{Success: true, Result: resultDTOPtr(res)})
	}
}

// ResolveBatch returns a handler for POST /api/v1/resolve/batch.
func ResolveBatch(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ResolveBatchAPIRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ResolveBatchAPIResponse{Success: false, Error: &models.ErrorDetail{Code: models.ErrCodeValidation, Message: err.Error()}})
			return
		}

		ctx := correlation.WithID(c.Request.Context(), correlation.New())
		c.Request = c.Request.WithContext(ctx)

		rc, cleanup, err := openResolveContext(c, d, req.URL, req.TabID, req.JobID, req.Env, req.StealthMode, req.FastHTTP)
		if err != nil {
			respondErr(c, gin.H{"success": false}, err)
			return
		}
		defer cleanup()

		results, err := d.Resolver.ResolveBatch(ctx, req.SelectorNames, rc)
		if err != nil {
			respondErr(c, gin.H{"success": false}, err)
			return
		}

		dtos := make([]models.ResultDTO, 0, len(results))
		for _, res := range results {
			d.history.record(res)
			dtos = append(dtos, resultToDTO(res))
		}
		c.JSON(http.StatusOK, models.ResolveBatchAPIResponse{Success: true, Results: dtos})
	}
}

// ResolveStream returns a handler for GET /api/v1/resolve/stream: an SSE
// endpoint that mirrors purify's handleScrapeSSE shape, but streams this
// process's selector.resolved/selector.failed events instead of replaying
// a single request's lifecycle.
func ResolveStream(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		ch := make(chan gin.H, 16)
		forward := eventbus.SubscriberFunc(func(e eventbus.Event) {
			select {
			case ch <- gin.H{"kind": string(e.Kind), "job_id": e.JobID, "component": e.Component, "severity": string(e.Severity), "details": e.Details}:
			default: // drop if the client is too slow to keep up
			}
		})
		unsub := d.Bus.Subscribe(eventbus.KindSelectorResolved, forward)
		unsubFail := d.Bus.Subscribe(eventbus.KindSelectorFailed, forward)
		defer unsub()
		defer unsubFail()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				data, _ := json.Marshal(evt)
				fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", evt["kind"], data)
				c.Writer.Flush()
			}
		}
	}
}

func resultDTOPtr(res *selector.Result) *models.ResultDTO {
	if res == nil {
		return nil
	}
	d := resultToDTO(res)
	return &d
}
