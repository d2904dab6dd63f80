package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"dearq/internal/models"
)

const (
	maxDisplayNameRunes = 30
	maxLabelRunes       = 20
	maxBioRunes         = 300
	maxInterestTags     = 10
)

// OnboardingInput is the one-time profile setup payload.
type OnboardingInput struct {
	DisplayName string   `json:"display_name"`
	Label       string   `json:"label"`
	Bio         string   `json:"bio"`
	Interests   []string `json:"interests"`
}

// ParticipantService manages participant records. Identity itself comes from
// the external login flow; this service only materializes and mutates the
// profile.
type ParticipantService struct {
	store  ParticipantStore
	logger *zap.Logger
	now    func() time.Time
}

func NewParticipantService(store ParticipantStore, logger *zap.Logger) *ParticipantService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParticipantService{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate materializes the participant row on first login.
func (s *ParticipantService) GetOrCreate(ctx context.Context, id, displayName string) (*models.Participant, error) {
	if id == "" {
		return nil, NewInvalidError("participant id is required")
	}
	p, err := s.store.GetParticipant(ctx, id)
	if err != nil || p != nil {
		return p, err
	}
	p = &models.Participant{ID: id, DisplayName: strings.TrimSpace(displayName), CreatedAt: s.now()}
	if err := s.store.CreateParticipant(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return s.store.GetParticipant(ctx, id)
		}
		return nil, err
	}
	s.logger.Info("participant created", zap.String("participant_id", id))
	return p, nil
}

// Get returns a participant or a not-found error.
func (s *ParticipantService) Get(ctx context.Context, id string) (*models.Participant, error) {
	p, err := s.store.GetParticipant(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	return p, nil
}

// CompleteOnboarding sets the profile fields once. A second attempt is a
// conflict; profile edits after onboarding are a separate concern.
func (s *ParticipantService) CompleteOnboarding(ctx context.Context, id string, in OnboardingInput) (*models.Participant, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Onboarded() {
		return nil, NewConflictError("onboarding is already completed")
	}

	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		return nil, NewInvalidError("display name is required")
	}
	if len([]rune(name)) > maxDisplayNameRunes {
		return nil, NewInvalidError("display name is too long")
	}
	label := strings.TrimSpace(in.Label)
	if len([]rune(label)) > maxLabelRunes {
		return nil, NewInvalidError("label is too long")
	}
	bio := strings.TrimSpace(in.Bio)
	if len([]rune(bio)) > maxBioRunes {
		return nil, NewInvalidError("bio is too long")
	}
	interests := make([]string, 0, len(in.Interests))
	for _, tag := range in.Interests {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			interests = append(interests, tag)
		}
	}
	if len(interests) == 0 {
		return nil, NewInvalidError("pick at least one interest")
	}
	if len(interests) > maxInterestTags {
		return nil, NewInvalidError("too many interests")
	}

	now := s.now()
	p.DisplayName = name
	p.Label = label
	p.Bio = bio
	p.Interests = interests
	p.OnboardedAt = &now
	if err := s.store.UpdateParticipantProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
