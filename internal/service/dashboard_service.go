package service

import (
	"context"

	"github.com/govforge/bcr-service/internal/logger"
	"github.com/govforge/bcr-service/internal/repository"
	"github.com/govforge/bcr-service/internal/workflow"
)

// Bounds on the dashboard listings. The dashboard never issues unbounded
// queries; everything beyond these limits goes through the paginated browse
// surface instead.
const (
	recentBCRLimit            = 5
	activeBCRLimit            = 100
	unreviewedSubmissionLimit = 10
)

// Dashboard is the view-model composed for the presentation layer.
type Dashboard struct {
	Phases                []workflow.Phase         `json:"phases"`
	Counters              *CounterSnapshot         `json:"counters"`
	RecentBCRs            []*repository.BCR        `json:"recent_bcrs"`
	ActiveBCRs            []*repository.BCR        `json:"active_bcrs"`
	UnreviewedSubmissions []*repository.Submission `json:"unreviewed_submissions"`
}

// DashboardService combines the registry, the counter cache and a handful of
// bounded record listings. Counter reads go through the cache fast path;
// listing failures degrade to empty sections rather than failing the page.
type DashboardService struct {
	registry    *workflow.Registry
	cache       *CounterCache
	bcrs        BCRStore
	submissions SubmissionStore
	log         *logger.Logger
}

// NewDashboardService creates a new dashboard composer.
func NewDashboardService(
	registry *workflow.Registry,
	cache *CounterCache,
	bcrs BCRStore,
	submissions SubmissionStore,
	log *logger.Logger,
) *DashboardService {
	return &DashboardService{
		registry:    registry,
		cache:       cache,
		bcrs:        bcrs,
		submissions: submissions,
		log:         log,
	}
}

// Compose builds the dashboard view-model.
func (s *DashboardService) Compose(ctx context.Context) (*Dashboard, error) {
	dash := &Dashboard{
		Phases:                s.registry.Phases(),
		RecentBCRs:            []*repository.BCR{},
		ActiveBCRs:            []*repository.BCR{},
		UnreviewedSubmissions: []*repository.Submission{},
	}

	counters, err := s.cache.Get(ctx, false)
	if err != nil {
		// Only possible before the first successful recompute; serve the
		// rest of the page without counters.
		s.log.Warn().Err(err).Msg("dashboard: counters unavailable")
	} else {
		dash.Counters = counters
	}

	if recent, err := s.bcrs.ListRecent(ctx, recentBCRLimit); err != nil {
		s.log.Warn().Err(err).Msg("dashboard: failed to list recent bcrs")
	} else {
		dash.RecentBCRs = recent
	}

	if active, err := s.bcrs.ListActive(ctx, activeBCRLimit); err != nil {
		s.log.Warn().Err(err).Msg("dashboard: failed to list active bcrs")
	} else {
		dash.ActiveBCRs = active
	}

	if unreviewed, err := s.submissions.ListUnreviewed(ctx, unreviewedSubmissionLimit); err != nil {
		s.log.Warn().Err(err).Msg("dashboard: failed to list unreviewed submissions")
	} else {
		dash.UnreviewedSubmissions = unreviewed
	}

	return dash, nil
}
