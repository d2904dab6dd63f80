package services

import (
	"context"
	"time"

	"dearq/internal/models"
)

// Per-entity store contracts. The sqlite implementation satisfies all of
// them; services depend on the narrowest composition they need.

type ParticipantStore interface {
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	CreateParticipant(ctx context.Context, p *models.Participant) error
	UpdateParticipantProfile(ctx context.Context, p *models.Participant) error
}

type QuestionStore interface {
	CountActiveQuestions(ctx context.Context) (int, error)
	// InsertQuestions adds questions, skipping any whose content already
	// exists. Returns the number actually inserted.
	InsertQuestions(ctx context.Context, qs []*models.Question) (int, error)
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	// PickQuestion selects the next question for a relationship: an active
	// question the relationship has not been assigned before, preferring the
	// given interest categories, least-used first; falls back to any active
	// question when the unseen set is exhausted. Returns nil when the pool
	// has no active questions at all.
	PickQuestion(ctx context.Context, relationshipID string, interests []string) (*models.Question, error)
	IncrementQuestionUse(ctx context.Context, id string) error
}

type RelationshipStore interface {
	GetRelationship(ctx context.Context, id string) (*models.Relationship, error)
	ActivePairedRelationship(ctx context.Context, participantID string) (*models.Relationship, error)
	ActiveSoloRelationship(ctx context.Context, participantID string) (*models.Relationship, error)
	CreateRelationship(ctx context.Context, r *models.Relationship) error
	SetRelationshipStatus(ctx context.Context, id string, status models.RelationshipStatus) error
}

type AssignmentStore interface {
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	GetAssignmentByDay(ctx context.Context, relationshipID, serviceDay string) (*models.Assignment, error)
	CreateAssignment(ctx context.Context, a *models.Assignment) error
	SetAssignmentStatus(ctx context.Context, id string, status models.AssignmentStatus) error
	SetAssignmentRelationship(ctx context.Context, id, relationshipID string) error
	ListCompletedAssignments(ctx context.Context, relationshipID string, limit int) ([]*models.Assignment, error)
}

type AnswerStore interface {
	ListAnswers(ctx context.Context, assignmentID string) ([]*models.Answer, error)
	CreateAnswer(ctx context.Context, a *models.Answer) error
}

type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	GetConversationByAssignment(ctx context.Context, assignmentID string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, c *models.Conversation) error
}

type ShareTokenStore interface {
	GetShareToken(ctx context.Context, token string) (*models.ShareToken, error)
	// PendingShareToken returns an unexpired pending token by the creator
	// for the given assignment scope ("" for plain invites), if any.
	PendingShareToken(ctx context.Context, creatorID, assignmentID string, now time.Time) (*models.ShareToken, error)
	CreateShareToken(ctx context.Context, t *models.ShareToken) error
	// MarkShareTokenUsed flips a pending token to used and binds the
	// relationship in one statement. Returns false when the token was no
	// longer pending, which is how a losing concurrent consumer finds out.
	MarkShareTokenUsed(ctx context.Context, token, relationshipID string, usedAt time.Time) (bool, error)
}

type StatsStore interface {
	CountParticipants(ctx context.Context) (int, error)
	CountRelationships(ctx context.Context, kind models.RelationshipKind, status models.RelationshipStatus) (int, error)
	CountAssignmentsByDay(ctx context.Context, serviceDay string) (int, error)
	CountAssignmentsByDayAndStatus(ctx context.Context, serviceDay string, status models.AssignmentStatus) (int, error)
	CountConversations(ctx context.Context) (int, error)
}

// Store is the full persistence surface.
type Store interface {
	ParticipantStore
	QuestionStore
	RelationshipStore
	AssignmentStore
	AnswerStore
	ConversationStore
	ShareTokenStore
	StatsStore
}

// TxStore additionally runs a function inside a single transaction. Every
// multi-step state change (answer commit plus gate evaluation, promotion,
// token consumption) goes through RunInTx.
type TxStore interface {
	Store
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}
