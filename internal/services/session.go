package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/codyseavey/tcg-portfolio/internal/events"
	"github.com/codyseavey/tcg-portfolio/internal/metrics"
	"github.com/codyseavey/tcg-portfolio/internal/models"
)

const (
	DefaultSessionCapacity = 1024
	// debouncedQueryTimeout bounds a re-query fired from a debounce timer
	debouncedQueryTimeout = 30 * time.Second
)

// Searcher is the part of SearchService a browse session drives
type Searcher interface {
	SearchAll(ctx context.Context, q models.SearchQuery) (*models.SearchResult, error)
	InvalidateCache(ctx context.Context)
}

// QueryUpdate changes a session's query. Nil fields are left as they are.
type QueryUpdate struct {
	FreeText    *string           `json:"q,omitempty"`
	ExpansionID *string           `json:"expansion_id,omitempty"`
	ViewMode    *models.ViewMode  `json:"view_mode,omitempty"`
	SortBy      *models.SortField `json:"sort_by,omitempty"`
	SortOrder   *models.SortOrder `json:"sort_order,omitempty"`
	PageSize    *int              `json:"page_size,omitempty"`
}

// SessionState is what a client needs to render a browse session
type SessionState struct {
	ID             string             `json:"id"`
	Query          models.SearchQuery `json:"query"`
	Results        PageSnapshot       `json:"results"`
	WindowSize     int                `json:"window_size"`
	PendingRequery bool               `json:"pending_requery"`
	Cart           []models.CartLine  `json:"cart"`
	CartTotalCents int64              `json:"cart_total_cents"`
}

// BrowseSession is one client's search, filters, results and cart
type BrowseSession struct {
	ID     string
	UserID string

	search    Searcher
	facets    *FacetEngine
	publisher events.Publisher
	pages     *Paginator
	debouncer *Debouncer
	cart      *Cart

	// seq tags every issued query; only the latest may update the window
	seq atomic.Uint64

	mu            sync.Mutex
	query         models.SearchQuery
	pagedQuery    models.SearchQuery // produced the pages currently held
	window        []models.CatalogItem
	windowVersion uint64
}

// Query returns a copy of the current query
func (s *BrowseSession) Query() models.SearchQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.query
	q.Filters = s.query.Filters.Clone()
	return q
}

func (s *BrowseSession) Cart() *Cart {
	return s.cart
}

// State snapshots the session
func (s *BrowseSession) State() SessionState {
	q := s.Query()
	s.mu.Lock()
	windowSize := len(s.window)
	s.mu.Unlock()
	return SessionState{
		ID:             s.ID,
		Query:          q,
		Results:        s.pages.Snapshot(),
		WindowSize:     windowSize,
		PendingRequery: s.debouncer.Pending(),
		Cart:           s.cart.Lines(),
		CartTotalCents: s.cart.TotalCents(),
	}
}

func (s *BrowseSession) loader(q models.SearchQuery) PageLoader {
	return func(ctx context.Context, page int) (*models.SearchResult, error) {
		pq := q
		pq.Page = page
		return s.search.SearchAll(ctx, pq)
	}
}

// Refresh re-runs the current query from page 1 and reloads the facet window.
// A refresh overtaken by a newer one leaves no trace.
func (s *BrowseSession) Refresh(ctx context.Context) (SessionState, error) {
	s.mu.Lock()
	token := s.seq.Add(1)
	q := s.query
	q.Filters = s.query.Filters.Clone()
	epoch := s.pages.beginFirst()
	s.pagedQuery = q
	s.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		_, err := s.pages.complete(ctx, epoch, 1, s.loader(q))
		return err
	})
	g.Go(func() error {
		return s.loadWindow(ctx, token, q)
	})
	err := g.Wait()
	return s.State(), err
}

// loadWindow fetches the filter-free result set that facet counts run over
func (s *BrowseSession) loadWindow(ctx context.Context, token uint64, q models.SearchQuery) error {
	q.Filters = nil
	q.Page = 1
	q.PageSize = models.MaxPageSize
	res, err := s.search.SearchAll(ctx, q)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.seq.Load() {
		return nil
	}
	s.window = res.Items
	s.windowVersion++
	return nil
}

// Update applies changes to the query. Switching view mode or expansion also
// purges the result cache. Free-text-only edits are debounced; anything else
// re-queries immediately.
func (s *BrowseSession) Update(ctx context.Context, u QueryUpdate) (SessionState, error) {
	s.mu.Lock()
	prev := s.query
	q := s.query
	if u.FreeText != nil {
		q.FreeText = *u.FreeText
	}
	if u.ExpansionID != nil {
		q.ExpansionID = *u.ExpansionID
	}
	if u.ViewMode != nil {
		q.ViewMode = *u.ViewMode
	}
	if u.SortBy != nil {
		q.SortBy = *u.SortBy
	}
	if u.SortOrder != nil {
		q.SortOrder = *u.SortOrder
	}
	if u.PageSize != nil {
		q.PageSize = *u.PageSize
	}
	q.Sanitize()
	if q.ViewMode == models.ViewSealed {
		// Sealed products carry no facets
		q.Filters = nil
	}
	s.query = q
	s.mu.Unlock()

	scopeChanged := q.ViewMode != prev.ViewMode || q.ExpansionID != prev.ExpansionID
	if scopeChanged {
		s.search.InvalidateCache(ctx)
	}

	textOnly := u.FreeText != nil && u.ExpansionID == nil && u.ViewMode == nil &&
		u.SortBy == nil && u.SortOrder == nil && u.PageSize == nil
	if textOnly && q.FreeText != prev.FreeText {
		s.requeryLater()
		return s.State(), nil
	}

	s.debouncer.Cancel()
	return s.Refresh(ctx)
}

// ToggleFilter flips one facet value and schedules a debounced re-query
func (s *BrowseSession) ToggleFilter(ctx context.Context, facet models.Facet, value string) (SessionState, error) {
	value = strings.TrimSpace(value)
	verr := &ValidationError{}
	if !facet.IsValid() {
		verr.Add("facet", "unknown facet %q", facet)
	}
	if value == "" {
		verr.Add("value", "is required")
	}
	if err := verr.Err(); err != nil {
		return SessionState{}, err
	}

	s.mu.Lock()
	if s.query.ViewMode == models.ViewSealed {
		s.mu.Unlock()
		verr.Add("facet", "sealed products cannot be filtered by %s", facet)
		return SessionState{}, verr
	}
	if s.query.Filters == nil {
		s.query.Filters = make(models.FilterSet)
	}
	s.query.Filters.Toggle(facet, value)
	filters := s.query.Filters.Normalized()
	s.mu.Unlock()

	s.publishSelection(ctx, filters)
	s.requeryLater()
	return s.State(), nil
}

// ClearFilters drops every selection and schedules a debounced re-query
func (s *BrowseSession) ClearFilters(ctx context.Context) SessionState {
	s.mu.Lock()
	had := s.query.Filters.Active()
	s.query.Filters = nil
	s.mu.Unlock()

	if had {
		s.publishSelection(ctx, models.FilterSet{})
		s.requeryLater()
	}
	return s.State()
}

type selectionChange struct {
	Filters models.FilterSet `json:"filters"`
}

func (s *BrowseSession) publishSelection(ctx context.Context, filters models.FilterSet) {
	event := events.New(events.TopicSelectionChanged, s.UserID, selectionChange{Filters: filters})
	event.SessionID = s.ID
	events.PublishLogged(ctx, s.publisher, event)
}

// requeryLater replaces any pending re-query with a new one
func (s *BrowseSession) requeryLater() {
	s.debouncer.Trigger(func() {
		ctx, cancel := context.WithTimeout(context.Background(), debouncedQueryTimeout)
		defer cancel()
		if _, err := s.Refresh(ctx); err != nil {
			log.Printf("Warning: Session %s: debounced query failed: %v", s.ID, err)
		}
	})
}

// Flush runs a pending debounced re-query now. It is a no-op when nothing is pending.
func (s *BrowseSession) Flush(ctx context.Context) (SessionState, error) {
	if !s.debouncer.Cancel() {
		return s.State(), nil
	}
	return s.Refresh(ctx)
}

// FacetCounts counts facet values over the filter-free window, narrowed by
// every selection except the facet's own
func (s *BrowseSession) FacetCounts(facet models.Facet) (map[string]int, error) {
	if !facet.IsValid() {
		verr := &ValidationError{}
		verr.Add("facet", "unknown facet %q", facet)
		return nil, verr
	}
	s.mu.Lock()
	window, version, filters := s.window, s.windowVersion, s.query.Filters.Clone()
	s.mu.Unlock()
	return s.facets.Counts(window, version, filters, facet), nil
}

// AllFacetCounts returns counts for every facet
func (s *BrowseSession) AllFacetCounts() map[models.Facet]map[string]int {
	s.mu.Lock()
	window, version, filters := s.window, s.windowVersion, s.query.Filters.Clone()
	s.mu.Unlock()
	return s.facets.AllCounts(window, version, filters)
}

// pagedLoader continues the query that produced the held pages, not an edit
// still waiting on the debouncer
func (s *BrowseSession) pagedLoader() PageLoader {
	s.mu.Lock()
	q := s.pagedQuery
	q.Filters = s.pagedQuery.Filters.Clone()
	s.mu.Unlock()
	return s.loader(q)
}

// LoadMore appends the next page when the list end is visible
func (s *BrowseSession) LoadMore(ctx context.Context, visible bool) (PageSnapshot, error) {
	return s.pages.LoadMore(ctx, visible, s.pagedLoader())
}

// Retry re-issues a failed page load
func (s *BrowseSession) Retry(ctx context.Context) (PageSnapshot, error) {
	return s.pages.Retry(ctx, s.pagedLoader())
}

// AddToCart adds a visible result to the cart by id
func (s *BrowseSession) AddToCart(catalogItemID string, qty int) (models.CartLine, error) {
	snap := s.pages.Snapshot()
	for _, item := range snap.Items {
		if item.ID == catalogItemID {
			return s.cart.Add(item, qty)
		}
	}
	s.mu.Lock()
	window := s.window
	s.mu.Unlock()
	for _, item := range window {
		if item.ID == catalogItemID {
			return s.cart.Add(item, qty)
		}
	}
	return models.CartLine{}, fmt.Errorf("catalog item %s is not in the current results: %w", catalogItemID, ErrNotFound)
}

func (s *BrowseSession) close() {
	s.debouncer.Cancel()
	s.pages.Reset()
}

// SessionManager owns browse sessions, evicting the least recently used
type SessionManager struct {
	search    Searcher
	facets    *FacetEngine
	publisher events.Publisher
	debounce  time.Duration
	sessions  *lru.Cache[string, *BrowseSession]
}

func NewSessionManager(search Searcher, facets *FacetEngine, publisher events.Publisher, capacity int, debounce time.Duration) (*SessionManager, error) {
	if capacity <= 0 {
		capacity = DefaultSessionCapacity
	}
	sessions, err := lru.NewWithEvict(capacity, func(_ string, s *BrowseSession) {
		s.close()
		metrics.ActiveSessions.Dec()
	})
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	return &SessionManager{
		search:    search,
		facets:    facets,
		publisher: publisher,
		debounce:  debounce,
		sessions:  sessions,
	}, nil
}

// Create starts a session for userID with an optional initial query
func (m *SessionManager) Create(userID string, q models.SearchQuery) *BrowseSession {
	q.Sanitize()
	if q.ViewMode == models.ViewSealed {
		q.Filters = nil
	}
	s := &BrowseSession{
		ID:         uuid.NewString(),
		UserID:     userID,
		search:     m.search,
		facets:     m.facets,
		publisher:  m.publisher,
		pages:      NewPaginator(),
		debouncer:  NewDebouncer(m.debounce),
		cart:       NewCart(),
		query:      q,
		pagedQuery: q,
	}
	m.sessions.Add(s.ID, s)
	metrics.ActiveSessions.Inc()
	return s
}

// Get returns userID's session. Another user's session is reported as missing.
func (m *SessionManager) Get(id, userID string) (*BrowseSession, error) {
	s, ok := m.sessions.Get(id)
	if !ok || s.UserID != userID {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Delete ends a session
func (m *SessionManager) Delete(id, userID string) error {
	s, ok := m.sessions.Peek(id)
	if !ok || s.UserID != userID {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	m.sessions.Remove(id)
	return nil
}

func (m *SessionManager) Len() int {
	return m.sessions.Len()
}

// Close ends every session
func (m *SessionManager) Close() {
	m.sessions.Purge()
}
