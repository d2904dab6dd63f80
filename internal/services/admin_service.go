package services

import (
	"context"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"dearq/internal/models"
)

// DashboardSummary is the read-only operational snapshot. It is computed
// from the tables directly and consumes the state machine only as data.
type DashboardSummary struct {
	ServiceDay          string  `json:"service_day"`
	Participants        int     `json:"participants"`
	ActiveRelationships int     `json:"active_relationships"`
	SoloRelationships   int     `json:"solo_relationships"`
	TodayAssignments    int     `json:"today_assignments"`
	TodayCompleted      int     `json:"today_completed"`
	Conversations       int     `json:"conversations"`
	CompletionRate      float64 `json:"completion_rate"`
}

// AdminService exposes the dashboard behind a bcrypt passcode.
type AdminService struct {
	store    StatsStore
	clock    *DayClock
	passHash []byte
}

func NewAdminService(store StatsStore, clock *DayClock, passcodeHash string) *AdminService {
	return &AdminService{store: store, clock: clock, passHash: []byte(passcodeHash)}
}

// Authorize checks the admin passcode.
func (s *AdminService) Authorize(passcode string) error {
	if len(s.passHash) == 0 {
		return NewUnavailableError("admin access is not configured")
	}
	if err := bcrypt.CompareHashAndPassword(s.passHash, []byte(passcode)); err != nil {
		return NewUnauthorizedError("invalid admin passcode")
	}
	return nil
}

// Dashboard gathers the counts; the queries are independent and run
// concurrently.
func (s *AdminService) Dashboard(ctx context.Context) (*DashboardSummary, error) {
	day := s.clock.ServiceDay()
	sum := &DashboardSummary{ServiceDay: day}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sum.Participants, err = s.store.CountParticipants(ctx)
		return
	})
	g.Go(func() (err error) {
		sum.ActiveRelationships, err = s.store.CountRelationships(ctx, models.KindPaired, models.RelationshipActive)
		return
	})
	g.Go(func() (err error) {
		sum.SoloRelationships, err = s.store.CountRelationships(ctx, models.KindSolo, models.RelationshipActive)
		return
	})
	g.Go(func() (err error) {
		sum.TodayAssignments, err = s.store.CountAssignmentsByDay(ctx, day)
		return
	})
	g.Go(func() (err error) {
		sum.TodayCompleted, err = s.store.CountAssignmentsByDayAndStatus(ctx, day, models.AssignmentCompleted)
		return
	})
	g.Go(func() (err error) {
		sum.Conversations, err = s.store.CountConversations(ctx)
		return
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if sum.TodayAssignments > 0 {
		sum.CompletionRate = float64(sum.TodayCompleted) / float64(sum.TodayAssignments)
	}
	return sum, nil
}
