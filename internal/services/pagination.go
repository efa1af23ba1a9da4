package services

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/codyseavey/tcg-portfolio/internal/models"
)

// MaxPages caps how far load-more can go for one query
const MaxPages = 40

type PageState string

const (
	StateIdle         PageState = "idle"
	StateLoadingFirst PageState = "loading_first"
	StateLoadingMore  PageState = "loading_more"
	StateExhausted    PageState = "exhausted"
	StateErrored      PageState = "errored"
)

// PageLoader fetches one 1-based page
type PageLoader func(ctx context.Context, page int) (*models.SearchResult, error)

// PageSnapshot is a consistent copy of the paginator's state
type PageSnapshot struct {
	State       PageState            `json:"state"`
	Page        int                  `json:"page"`
	PageSize    int                  `json:"page_size"`
	Total       int                  `json:"total"`
	HasMore     bool                 `json:"has_more"`
	Items       []models.CatalogItem `json:"items"`
	Partial     bool                 `json:"partial"`
	Unavailable []string             `json:"unavailable,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Paginator accumulates pages for infinite scroll. Only one load-more runs at
// a time; a LoadFirst supersedes anything in flight.
type Paginator struct {
	inFlight atomic.Bool

	mu          sync.Mutex
	epoch       uint64
	state       PageState
	page        int
	pageSize    int
	total       int
	hasMore     bool
	items       []models.CatalogItem
	seen        map[string]struct{}
	partial     bool
	unavailable []string
	lastErr     error
	failedPage  int
}

func NewPaginator() *Paginator {
	return &Paginator{state: StateIdle, seen: make(map[string]struct{})}
}

// Snapshot returns the current state
func (p *Paginator) Snapshot() PageSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Paginator) snapshotLocked() PageSnapshot {
	snap := PageSnapshot{
		State:       p.state,
		Page:        p.page,
		PageSize:    p.pageSize,
		Total:       p.total,
		HasMore:     p.hasMore,
		Items:       slices.Clone(p.items),
		Partial:     p.partial,
		Unavailable: slices.Clone(p.unavailable),
	}
	if p.lastErr != nil {
		snap.Error = p.lastErr.Error()
	}
	return snap
}

// Reset discards all pages; loads still in flight will be ignored
func (p *Paginator) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	p.state = StateIdle
}

func (p *Paginator) resetLocked() {
	p.epoch++
	p.page = 0
	p.total = 0
	p.hasMore = false
	p.items = nil
	p.seen = make(map[string]struct{})
	p.partial = false
	p.unavailable = nil
	p.lastErr = nil
	p.failedPage = 0
}

// LoadFirst replaces everything with page 1
func (p *Paginator) LoadFirst(ctx context.Context, load PageLoader) (PageSnapshot, error) {
	return p.complete(ctx, p.beginFirst(), 1, load)
}

// beginFirst discards all pages and claims a new epoch for a page 1 load
func (p *Paginator) beginFirst() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	p.state = StateLoadingFirst
	return p.epoch
}

func (p *Paginator) complete(ctx context.Context, epoch uint64, page int, load PageLoader) (PageSnapshot, error) {
	res, err := load(ctx, page)
	return p.finish(epoch, page, res, err)
}

// LoadMore appends the next page. It is a no-op returning the current state
// unless the list is visible, more pages exist and nothing is loading.
func (p *Paginator) LoadMore(ctx context.Context, visible bool, load PageLoader) (PageSnapshot, error) {
	if !visible {
		return p.Snapshot(), nil
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		return p.Snapshot(), nil
	}
	defer p.inFlight.Store(false)

	p.mu.Lock()
	if p.state != StateIdle || !p.hasMore {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, nil
	}
	p.state = StateLoadingMore
	next := p.page + 1
	epoch := p.epoch
	p.mu.Unlock()

	return p.complete(ctx, epoch, next, load)
}

// Retry re-issues the load that failed. Outside the errored state it is a no-op.
func (p *Paginator) Retry(ctx context.Context, load PageLoader) (PageSnapshot, error) {
	p.mu.Lock()
	if p.state != StateErrored {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, nil
	}
	failed := p.failedPage
	p.state = StateIdle
	p.lastErr = nil
	if failed > 1 {
		// The failed page is still missing, so there is more to load
		p.hasMore = true
	}
	p.mu.Unlock()

	if failed <= 1 {
		return p.LoadFirst(ctx, load)
	}
	return p.LoadMore(ctx, true, load)
}

func (p *Paginator) finish(epoch uint64, page int, res *models.SearchResult, err error) (PageSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Superseded by a newer LoadFirst or Reset
	if epoch != p.epoch {
		return p.snapshotLocked(), nil
	}

	if err != nil {
		p.state = StateErrored
		p.lastErr = err
		p.failedPage = page
		return p.snapshotLocked(), err
	}

	for _, item := range res.Items {
		if _, dup := p.seen[item.ID]; dup {
			continue
		}
		p.seen[item.ID] = struct{}{}
		p.items = append(p.items, item)
	}
	p.page = page
	p.pageSize = res.PageSize
	p.total = res.Total
	p.partial = p.partial || res.Partial
	p.unavailable = append(p.unavailable, res.Unavailable...)
	slices.Sort(p.unavailable)
	p.unavailable = slices.Compact(p.unavailable)
	p.hasMore = models.HasMorePages(page, res.PageSize, res.Total) && page < MaxPages
	if p.hasMore {
		p.state = StateIdle
	} else {
		p.state = StateExhausted
	}
	return p.snapshotLocked(), nil
}
