// Package handler implements the HTTP control plane's route handlers
// (component 4.V): selector CRUD, synchronous and streaming resolve,
// snapshot/job/abort introspection, and extended health.
package handler

import (
	"sync"
	"time"

	"github.com/use-agent/resolveguard/config"
	"github.com/use-agent/resolveguard/driver"
	"github.com/use-agent/resolveguard/eventbus"
	"github.com/use-agent/resolveguard/resilience/abort"
	"github.com/use-agent/resolveguard/resilience/browserrecovery"
	"github.com/use-agent/resolveguard/resilience/checkpoint"
	"github.com/use-agent/resolveguard/resilience/degradation"
	"github.com/use-agent/resolveguard/resilience/failure"
	"github.com/use-agent/resolveguard/resilience/tabhandler"
	"github.com/use-agent/resolveguard/selector"
	"github.com/use-agent/resolveguard/snapshot"
	"github.com/use-agent/resolveguard/stealth"
)

// Deps bundles every collaborator the control plane's handlers need,
// constructed explicitly by the caller (cmd/resolveguardd) — no
// package-level singletons.
type Deps struct {
	Config      *config.Config
	Registry    *selector.Registry
	Scorer      *selector.Scorer
	Resolver    *selector.Resolver
	Browser     *driver.Browser
	Orchestrator *stealth.Orchestrator
	Snapshots   *snapshot.Store
	Checkpoints *checkpoint.Tracker
	Abort       *abort.Executor
	Recovery    *browserrecovery.Manager
	Degradation *degradation.Coordinator
	Failures    *failure.Handler
	Tabs        *tabhandler.Handler
	Bus         *eventbus.Bus
	HTTPFetcher *driver.HTTPFetcher
	StartTime   time.Time

	history *resultHistory
}

// NewDeps wires Deps and its internal bookkeeping.
func NewDeps() *Deps {
	return &Deps{history: newResultHistory(200), StartTime: time.Now(), HTTPFetcher: driver.NewHTTPFetcher("")}
}

// resultHistory keeps a small bounded ring of recent resolve results per
// selector name, feeding the /stats endpoint's rolling statistics without
// requiring the resolver itself to retain history.
type resultHistory struct {
	mu      sync.Mutex
	cap     int
	byName  map[string][]*selector.Result
}

func newResultHistory(capacity int) *resultHistory {
	return &resultHistory{cap: capacity, byName: make(map[string][]*selector.Result)}
}

func (h *resultHistory) record(res *selector.Result) {
	if res == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.byName[res.SelectorName], res)
	if len(list) > h.cap {
		list = list[len(list)-h.cap:]
	}
	h.byName[res.SelectorName] = list
}

func (h *resultHistory) snapshot(name string) []*selector.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*selector.Result{}, h.byName[name]...)
}
