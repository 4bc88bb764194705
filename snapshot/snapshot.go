// Package snapshot implements the DOM Snapshot Store (component O): an
// immutable, content-addressed record of page state captured on failure,
// with size- and age-bounded retention.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	readability "github.com/go-shiori/go-readability"

	"github.com/use-agent/resolveguard/resolveerr"
	"github.com/use-agent/resolveguard/simhash"
)

// Type enumerates the kinds of snapshot the store accepts.
type Type string

const (
	TypeFailure   Type = "failure"
	TypeDrift     Type = "drift"
	TypeRegression Type = "regression"
	TypeBaseline  Type = "baseline"
	TypeDebug     Type = "debug"
)

// Metadata is the free-form envelope attached to every snapshot.
type Metadata struct {
	PageURL             string
	TabContext          string
	ViewportW           int
	ViewportH           int
	UserAgent           string
	ResolutionAttempt   int
	FailureReason       string
	PerformanceMetrics  map[string]any
}

// DOMSnapshot is an immutable record of page state. Once written, a
// snapshot is never mutated; the store enforces this by never exposing a
// mutable reference to its stored bytes.
type DOMSnapshot struct {
	ID           string
	SelectorName string
	SnapshotType Type
	CreatedAt    time.Time
	FileSize     int64
	DOMContent   string
	Metadata     Metadata
}

// BuildID constructs the canonical snapshot id, fixing the Open Question
// about alternate storage paths: there is exactly one location and one id
// scheme, "failure_<name>_<epoch>".
func BuildID(selectorName string, at time.Time) string {
	return fmt.Sprintf("failure_%s_%d", selectorName, at.Unix())
}

// Store is a shared, concurrency-safe snapshot store. Writes are safe to
// run concurrently because ids are unique per failure (content-addressed).
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*DOMSnapshot
	dir      string
	gzip     bool
	maxBytes int64
	keepFail int
	maxAge   time.Duration
}

// Config configures retention policy.
type Config struct {
	Dir              string
	Gzip             bool
	MaxBytes         int64
	KeepFailureCount int
	MaxAge           time.Duration
}

// New creates a Store backed by an in-memory index plus, if Dir is
// non-empty, on-disk persistence of the raw (optionally gzipped) payload.
func New(cfg Config) *Store {
	return &Store{
		byID:     make(map[string]*DOMSnapshot),
		dir:      cfg.Dir,
		gzip:     cfg.Gzip,
		maxBytes: cfg.MaxBytes,
		keepFail: cfg.KeepFailureCount,
		maxAge:   cfg.MaxAge,
	}
}

// Write persists a fully-populated DOMSnapshot and returns its id. The
// caller is expected to have set s.ID via BuildID; Write fills CreatedAt
// and FileSize.
func (st *Store) Write(s DOMSnapshot) (string, error) {
	if s.ID == "" {
		return "", resolveerr.New(resolveerr.CodeSnapshot, "snapshot id is required", nil, nil)
	}
	s.CreatedAt = time.Now()
	s.FileSize = int64(len(s.DOMContent))

	st.mu.Lock()
	st.byID[s.ID] = &s
	st.mu.Unlock()

	if st.dir != "" {
		if err := st.persist(&s); err != nil {
			return "", resolveerr.New(resolveerr.CodeSnapshot, "failed to persist snapshot to disk", map[string]any{"id": s.ID}, err)
		}
	}

	return s.ID, nil
}

func (st *Store) persist(s *DOMSnapshot) error {
	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return err
	}
	suffix := ".json"
	var payload []byte
	if st.gzip {
		suffix = ".jsongz"
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write([]byte(s.DOMContent)); err != nil {
			return err
		}
		if err := gw.Close(); err != nil {
			return err
		}
		payload = buf.Bytes()
	} else {
		payload = []byte(s.DOMContent)
	}
	return os.WriteFile(filepath.Join(st.dir, s.ID+suffix), payload, 0o644)
}

// Read returns the full record for id, or a CodeSnapshot error when id is
// unknown.
func (st *Store) Read(id string) (*DOMSnapshot, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.byID[id]
	if !ok {
		return nil, resolveerr.New(resolveerr.CodeSnapshot, fmt.Sprintf("snapshot %q not found", id), map[string]any{"id": id}, nil)
	}
	cp := *s
	return &cp, nil
}

// Cleanup removes snapshots older than the configured max age, then
// enforces the size cap by evicting type=debug snapshots first, then
// type=failure entries beyond KeepFailureCount, oldest CreatedAt first.
// Reads do not refresh an entry, so eviction follows creation time, not
// last use.
func (st *Store) Cleanup() (removed int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := time.Now().Add(-st.maxAge)
	for id, s := range st.byID {
		if st.maxAge > 0 && s.CreatedAt.Before(cutoff) {
			delete(st.byID, id)
			removed++
		}
	}

	if st.maxBytes <= 0 {
		return removed
	}

	var total int64
	for _, s := range st.byID {
		total += s.FileSize
	}
	if total <= st.maxBytes {
		return removed
	}

	// Evict debug snapshots first, oldest first.
	debugs := st.snapshotsOfType(TypeDebug)
	sort.Slice(debugs, func(i, j int) bool { return debugs[i].CreatedAt.Before(debugs[j].CreatedAt) })
	for _, s := range debugs {
		if total <= st.maxBytes {
			break
		}
		total -= s.FileSize
		delete(st.byID, s.ID)
		removed++
	}

	// Then failure snapshots beyond the keep-count, oldest first.
	failures := st.snapshotsOfType(TypeFailure)
	sort.Slice(failures, func(i, j int) bool { return failures[i].CreatedAt.Before(failures[j].CreatedAt) })
	for len(failures) > st.keepFail && total > st.maxBytes {
		victim := failures[0]
		failures = failures[1:]
		total -= victim.FileSize
		delete(st.byID, victim.ID)
		removed++
	}

	return removed
}

func (st *Store) snapshotsOfType(t Type) []*DOMSnapshot {
	var out []*DOMSnapshot
	for _, s := range st.byID {
		if s.SnapshotType == t {
			out = append(out, s)
		}
	}
	return out
}

// driftThreshold is the Hamming-distance ceiling between a snapshot's
// SimHash fingerprint and its selector's stored baseline below which the
// page is considered unchanged. Distances above regressionThreshold
// indicate the page structure has changed so severely it is classified a
// regression rather than a drift.
const (
	driftThreshold      = 6
	regressionThreshold = 24
)

// Baseline returns the most recent TypeBaseline snapshot recorded for
// selectorName, if any.
func (st *Store) Baseline(selectorName string) *DOMSnapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var best *DOMSnapshot
	for _, s := range st.byID {
		if s.SnapshotType != TypeBaseline || s.SelectorName != selectorName {
			continue
		}
		if best == nil || s.CreatedAt.After(best.CreatedAt) {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

// ClassifyDrift compares rawHTML's DOM-structure SimHash fingerprint
// against selectorName's stored baseline (if one exists) and returns the
// snapshot Type that a newly captured failure snapshot should carry:
// TypeFailure when there is no baseline to compare against, TypeDrift when
// the page has changed moderately, or TypeRegression when it has changed
// beyond recognition. Fingerprinting the tag-sequence shingles rather than
// raw text keeps the distance stable across content-only edits (score
// updates, odds ticks) and sensitive to layout/markup changes, which is
// what actually invalidates a selector. The returned distance is the raw
// Hamming distance, useful for the `drift.detected` event's detail map.
func (st *Store) ClassifyDrift(selectorName, rawHTML string) (snapType Type, distance int) {
	baseline := st.Baseline(selectorName)
	if baseline == nil {
		return TypeFailure, -1
	}
	d := simhash.Distance(simhash.FingerprintDOM(rawHTML), simhash.FingerprintDOM(baseline.DOMContent))
	switch {
	case d <= driftThreshold:
		return TypeFailure, d
	case d <= regressionThreshold:
		return TypeDrift, d
	default:
		return TypeRegression, d
	}
}

// RenderMarkdown converts a snapshot's raw DOM payload to Markdown for
// human-readable failure reports, alongside the raw HTML.
func RenderMarkdown(rawHTML string) (string, error) {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
	return conv.ConvertString(rawHTML)
}

// ReadableExcerpt produces a short, human-debuggable summary of a snapshot
// page using go-readability's main-content extraction, grounded on the
// control-plane's own use of the same library for extraction.
func ReadableExcerpt(rawHTML, pageURL string) (title, excerpt string, err error) {
	if pageURL == "" {
		pageURL = "http://localhost/"
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", "", err
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), u)
	if err != nil {
		return "", "", err
	}
	excerpt = article.Excerpt
	if excerpt == "" && article.TextContent != "" {
		if len(article.TextContent) > 280 {
			excerpt = article.TextContent[:280]
		} else {
			excerpt = article.TextContent
		}
	}
	return article.Title, excerpt, nil
}
