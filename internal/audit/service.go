package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexhub/nexhub/internal/shared"
)

const maxPageSize = 100

// Repository provides the persistence the trail needs.
type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	ListByRole(ctx context.Context, roleID uuid.UUID, limit, offset int) ([]Entry, int, error)
	ListByActor(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]Entry, int, error)
	ListByAction(ctx context.Context, action Action, from, to time.Time, limit, offset int) ([]Entry, int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result bundles a page of entries with paging metadata.
type Result struct {
	Entries    []Entry           `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}

// QueryFilters selects audit entries for listing.
type QueryFilters struct {
	Action Action
	From   time.Time
	To     time.Time
	Page   int
	Limit  int
}

// Service appends and queries the role mutation trail.
type Service struct {
	repo   Repository
	logger *slog.Logger
	clock  func() time.Time
}

// NewService constructs the audit service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Log appends one entry. Persistence failures are logged here and
// returned; callers performing role mutations deliberately ignore the
// returned error so a trail outage never blocks the mutation itself.
func (s *Service) Log(ctx context.Context, entry Entry) error {
	if entry.Action == "" {
		return fmt.Errorf("audit: entry action required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock()
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		s.logger.Error("audit append failed",
			slog.String("action", string(entry.Action)),
			slog.String("role_id", entry.RoleID.String()),
			slog.Any("error", err))
		return err
	}
	return nil
}

// ByRole returns the trail for one role, newest first.
func (s *Service) ByRole(ctx context.Context, roleID uuid.UUID, page, limit int) (Result, error) {
	page, limit = shared.NormalizePage(page, limit, maxPageSize)
	entries, total, err := s.repo.ListByRole(ctx, roleID, limit, (page-1)*limit)
	if err != nil {
		return Result{}, err
	}
	return Result{Entries: entries, Pagination: shared.NewPagination(page, limit, total)}, nil
}

// ByActor returns the trail of mutations performed by one actor.
func (s *Service) ByActor(ctx context.Context, actorID uuid.UUID, page, limit int) (Result, error) {
	page, limit = shared.NormalizePage(page, limit, maxPageSize)
	entries, total, err := s.repo.ListByActor(ctx, actorID, limit, (page-1)*limit)
	if err != nil {
		return Result{}, err
	}
	return Result{Entries: entries, Pagination: shared.NewPagination(page, limit, total)}, nil
}

// ByAction returns entries of one action type within an optional date
// window.
func (s *Service) ByAction(ctx context.Context, filters QueryFilters) (Result, error) {
	page, limit := shared.NormalizePage(filters.Page, filters.Limit, maxPageSize)
	entries, total, err := s.repo.ListByAction(ctx, filters.Action, filters.From, filters.To, limit, (page-1)*limit)
	if err != nil {
		return Result{}, err
	}
	return Result{Entries: entries, Pagination: shared.NewPagination(page, limit, total)}, nil
}

// CleanupOldLogs purges entries older than the retention window and
// returns how many were removed. Invoked by the background scheduler,
// never by the engine itself.
func (s *Service) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("audit: retention days must be positive, got %d", retentionDays)
	}
	cutoff := s.clock().AddDate(0, 0, -retentionDays)
	removed, err := s.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("audit retention purge",
		slog.Int("retention_days", retentionDays),
		slog.Int64("removed", removed))
	return removed, nil
}
