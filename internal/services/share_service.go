package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dearq/internal/models"
)

const (
	shareTokenBytes    = 24
	tokenMintAttempts  = 5
	defaultInviteTTL   = 24 * time.Hour
	defaultAnswerTTL   = 7 * 24 * time.Hour
	defaultShareNotice = "Shall we answer today's question together?"
)

// ShareInvite is a validated token together with its creator's public
// profile, shown to the invitee before they accept.
type ShareInvite struct {
	Token     *models.ShareToken  `json:"token"`
	Creator   *models.Participant `json:"creator"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// ShareService issues, validates and consumes single-use share tokens.
type ShareService struct {
	store     TxStore
	logger    *zap.Logger
	now       func() time.Time
	idGen     func() string
	randToken func() string
	inviteTTL time.Duration
	answerTTL time.Duration
}

func NewShareService(store TxStore, logger *zap.Logger, inviteTTL, answerTTL time.Duration) *ShareService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if inviteTTL <= 0 {
		inviteTTL = defaultInviteTTL
	}
	if answerTTL <= 0 {
		answerTTL = defaultAnswerTTL
	}
	return &ShareService{
		store:     store,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     uuid.NewString,
		randToken: func() string { return randToken(shareTokenBytes) },
		inviteTTL: inviteTTL,
		answerTTL: answerTTL,
	}
}

// IssueInvite mints (or reuses) a pairing invite token for the creator.
func (s *ShareService) IssueInvite(ctx context.Context, creatorID, message string) (*models.ShareToken, error) {
	return s.issue(ctx, creatorID, "", message, s.inviteTTL)
}

// IssueAnswerShare mints (or reuses) a token that lets a stranger answer the
// creator's solo assignment. The creator must have answered first; a solo
// assignment cannot be promoted on an empty first answer.
func (s *ShareService) IssueAnswerShare(ctx context.Context, creatorID, assignmentID, message string) (*models.ShareToken, error) {
	if assignmentID == "" {
		return nil, NewInvalidError("assignment id is required")
	}
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, NewNotFoundError("assignment not found")
	}
	rel, err := s.store.GetRelationship(ctx, a.RelationshipID)
	if err != nil {
		return nil, err
	}
	if !rel.Includes(creatorID) {
		return nil, NewForbiddenError("you cannot share this assignment")
	}
	answers, err := s.store.ListAnswers(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	answered := false
	for _, ans := range answers {
		if ans.ParticipantID == creatorID {
			answered = true
			break
		}
	}
	if !answered {
		return nil, NewInvalidError("answer the question before sharing it")
	}
	return s.issue(ctx, creatorID, assignmentID, message, s.answerTTL)
}

func (s *ShareService) issue(ctx context.Context, creatorID, assignmentID, message string, ttl time.Duration) (*models.ShareToken, error) {
	now := s.now()
	// Reuse an unexpired pending token instead of minting another.
	if existing, err := s.store.PendingShareToken(ctx, creatorID, assignmentID, now); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	message = strings.TrimSpace(message)
	if message == "" {
		message = defaultShareNotice
	}
	for attempt := 0; attempt < tokenMintAttempts; attempt++ {
		t := &models.ShareToken{
			ID:           s.idGen(),
			Token:        s.randToken(),
			CreatorID:    creatorID,
			AssignmentID: assignmentID,
			Message:      message,
			Status:       models.ShareTokenPending,
			ExpiresAt:    now.Add(ttl),
			CreatedAt:    now,
		}
		err := s.store.CreateShareToken(ctx, t)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return nil, err
		}
	}
	return nil, NewUnavailableError("could not create a share link, try again")
}

// Validate checks a token and returns it with the creator's profile.
func (s *ShareService) Validate(ctx context.Context, token string) (*ShareInvite, error) {
	if token == "" {
		return nil, NewInvalidError("token is required")
	}
	st, err := s.store.GetShareToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("unknown invite link")
	}
	if err := checkTokenUsable(st, s.now()); err != nil {
		return nil, err
	}
	creator, err := s.store.GetParticipant(ctx, st.CreatorID)
	if err != nil {
		return nil, err
	}
	if creator == nil {
		return nil, NewNotFoundError("unknown invite link")
	}
	return &ShareInvite{Token: st, Creator: creator, ExpiresAt: st.ExpiresAt}, nil
}

// Consume pairs the consumer with the token's creator. Read, validation,
// relationship creation and the pending -> used flip happen in one
// transaction, so concurrent consumers of the same token settle to exactly
// one winner; the loser gets a conflict.
func (s *ShareService) Consume(ctx context.Context, token, consumerID string) (*models.Relationship, error) {
	if token == "" {
		return nil, NewInvalidError("token is required")
	}
	var pair *models.Relationship
	err := s.store.RunInTx(ctx, func(tx Store) error {
		st, err := tx.GetShareToken(ctx, token)
		if err != nil {
			return err
		}
		if st == nil {
			return NewNotFoundError("unknown invite link")
		}
		if err := checkTokenUsable(st, s.now()); err != nil {
			return err
		}
		if st.CreatorID == consumerID {
			return NewInvalidError("you cannot use your own invite link")
		}
		consumer, err := tx.GetParticipant(ctx, consumerID)
		if err != nil {
			return err
		}
		if consumer == nil {
			return NewNotFoundError("participant not found")
		}
		if !consumer.Onboarded() {
			return NewInvalidError("complete onboarding before joining")
		}
		if paired, err := tx.ActivePairedRelationship(ctx, consumerID); err != nil {
			return err
		} else if paired != nil {
			return NewConflictError("you are already connected to a companion")
		}
		if paired, err := tx.ActivePairedRelationship(ctx, st.CreatorID); err != nil {
			return err
		} else if paired != nil {
			return NewConflictError("the inviter is already connected to a companion")
		}

		now := s.now()
		pair = &models.Relationship{
			ID:           s.idGen(),
			Kind:         models.KindPaired,
			ParticipantA: st.CreatorID,
			ParticipantB: consumerID,
			Status:       models.RelationshipActive,
			ConnectedAt:  &now,
			CreatedAt:    now,
		}
		if err := tx.CreateRelationship(ctx, pair); err != nil {
			return err
		}
		ok, err := tx.MarkShareTokenUsed(ctx, token, pair.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return NewConflictError("this invite link was already used")
		}
		// Retire either side's solo placeholder; it only exists until
		// promotion.
		for _, pid := range []string{st.CreatorID, consumerID} {
			solo, err := tx.ActiveSoloRelationship(ctx, pid)
			if err != nil {
				return err
			}
			if solo != nil {
				if err := tx.SetRelationshipStatus(ctx, solo.ID, models.RelationshipConverted); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("invite consumed",
		zap.String("relationship_id", pair.ID),
		zap.String("creator_id", pair.ParticipantA),
		zap.String("consumer_id", pair.ParticipantB))
	return pair, nil
}

// checkTokenUsable applies the shared pending/expiry rules.
func checkTokenUsable(st *models.ShareToken, now time.Time) error {
	if now.After(st.ExpiresAt) || st.Status == models.ShareTokenExpired {
		return NewExpiredError("this invite link has expired")
	}
	if st.Status == models.ShareTokenUsed || st.RelationshipID != "" {
		return NewConflictError("this invite link was already used")
	}
	return nil
}

// randToken returns a URL-safe token of n random bytes.
func randToken(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
