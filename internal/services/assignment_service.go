package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dearq/internal/models"
)

// ResolverStore is what assignment resolution needs from persistence.
type ResolverStore interface {
	ParticipantStore
	QuestionStore
	RelationshipStore
	AssignmentStore
	AnswerStore
	ConversationStore
}

// ResolvedAssignment is the authoritative view of "today" for one viewer.
type ResolvedAssignment struct {
	Assignment   *models.Assignment   `json:"assignment"`
	Question     *models.Question     `json:"question"`
	Relationship *models.Relationship `json:"relationship"`
	Answers      []*models.Answer     `json:"answers"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
	GateStatus   GateStatus           `json:"gate_status"`
	TimeLeft     TimeLeft             `json:"time_left"`
}

// ConversationDetail is an opened assignment with both answers.
type ConversationDetail struct {
	Conversation *models.Conversation `json:"conversation"`
	Assignment   *models.Assignment   `json:"assignment"`
	Question     *models.Question     `json:"question"`
	Answers      []*models.Answer     `json:"answers"`
}

// HistoryEntry is one completed assignment in a relationship's history.
type HistoryEntry struct {
	Assignment     *models.Assignment `json:"assignment"`
	Question       *models.Question   `json:"question"`
	ConversationID string             `json:"conversation_id,omitempty"`
}

// AssignmentService resolves the single authoritative assignment for a
// participant and service day, creating it when absent. Resolution is
// idempotent under concurrent callers: creation races are settled by the
// (relationship, service day) unique constraint, never by pre-checking.
type AssignmentService struct {
	store     ResolverStore
	questions *QuestionService
	clock     *DayClock
	logger    *zap.Logger
	now       func() time.Time
	idGen     func() string
}

func NewAssignmentService(store ResolverStore, questions *QuestionService, clock *DayClock, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		store:     store,
		questions: questions,
		clock:     clock,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     uuid.NewString,
	}
}

// Resolve returns the participant's assignment for the current service day,
// creating the solo placeholder relationship and/or the assignment row as
// needed.
func (s *AssignmentService) Resolve(ctx context.Context, participantID string) (*ResolvedAssignment, error) {
	day := s.clock.ServiceDay()
	if _, err := s.questions.EnsureAvailable(ctx); err != nil {
		return nil, err
	}

	rel, err := s.store.ActivePairedRelationship(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		rel, err = s.ensureSoloRelationship(ctx, participantID)
		if err != nil {
			return nil, err
		}
	}

	a, err := s.store.GetAssignmentByDay(ctx, rel.ID, day)
	if err != nil {
		return nil, err
	}
	if a == nil {
		a, err = s.createAssignment(ctx, rel, day, participantID)
		if err != nil {
			return nil, err
		}
	}

	return s.load(ctx, a, rel, participantID)
}

// Conversation returns an opened conversation; only parties to the
// underlying relationship may read it.
func (s *AssignmentService) Conversation(ctx context.Context, conversationID, viewerID string) (*ConversationDetail, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, NewNotFoundError("conversation not found")
	}
	a, err := s.store.GetAssignment(ctx, conv.AssignmentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, NewNotFoundError("conversation not found")
	}
	rel, err := s.store.GetRelationship(ctx, a.RelationshipID)
	if err != nil {
		return nil, err
	}
	if !rel.Includes(viewerID) {
		return nil, NewForbiddenError("you are not a party to this conversation")
	}
	q, err := s.store.GetQuestion(ctx, a.QuestionID)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return &ConversationDetail{Conversation: conv, Assignment: a, Question: q, Answers: answers}, nil
}

// History lists the viewer's completed assignments, newest first.
func (s *AssignmentService) History(ctx context.Context, viewerID string, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	rel, err := s.store.ActivePairedRelationship(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		rel, err = s.store.ActiveSoloRelationship(ctx, viewerID)
		if err != nil {
			return nil, err
		}
	}
	if rel == nil {
		return []*HistoryEntry{}, nil
	}
	assignments, err := s.store.ListCompletedAssignments(ctx, rel.ID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]*HistoryEntry, 0, len(assignments))
	for _, a := range assignments {
		q, err := s.store.GetQuestion(ctx, a.QuestionID)
		if err != nil {
			return nil, err
		}
		entry := &HistoryEntry{Assignment: a, Question: q}
		if conv, err := s.store.GetConversationByAssignment(ctx, a.ID); err != nil {
			return nil, err
		} else if conv != nil {
			entry.ConversationID = conv.ID
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *AssignmentService) ensureSoloRelationship(ctx context.Context, participantID string) (*models.Relationship, error) {
	rel, err := s.store.ActiveSoloRelationship(ctx, participantID)
	if err != nil || rel != nil {
		return rel, err
	}
	rel = &models.Relationship{
		ID:           s.idGen(),
		Kind:         models.KindSolo,
		ParticipantA: participantID,
		Status:       models.RelationshipActive,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateRelationship(ctx, rel); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Another request created it first; use theirs.
			return s.store.ActiveSoloRelationship(ctx, participantID)
		}
		return nil, err
	}
	return rel, nil
}

func (s *AssignmentService) createAssignment(ctx context.Context, rel *models.Relationship, day, participantID string) (*models.Assignment, error) {
	var interests []string
	if rel.Kind == models.KindSolo {
		if p, err := s.store.GetParticipant(ctx, participantID); err != nil {
			return nil, err
		} else if p != nil {
			interests = p.Interests
		}
	}
	q, err := s.store.PickQuestion(ctx, rel.ID, interests)
	if err != nil {
		return nil, err
	}
	if q == nil {
		// Pool drained between the availability check and selection.
		return nil, NewUnavailableError("no questions are available right now")
	}

	a := &models.Assignment{
		ID:             s.idGen(),
		RelationshipID: rel.ID,
		QuestionID:     q.ID,
		ServiceDay:     day,
		Status:         models.AssignmentActive,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateAssignment(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Concurrent resolve won; re-read the winning row.
			return s.store.GetAssignmentByDay(ctx, rel.ID, day)
		}
		return nil, err
	}
	if err := s.store.IncrementQuestionUse(ctx, q.ID); err != nil {
		// Usage counters steer selection only; the assignment itself stands.
		s.logger.Warn("increment question use failed",
			zap.String("question_id", q.ID), zap.Error(err))
	}
	s.logger.Info("assignment created",
		zap.String("assignment_id", a.ID),
		zap.String("relationship_id", rel.ID),
		zap.String("service_day", day),
		zap.String("question_id", q.ID),
		zap.String("category", q.Category))
	return a, nil
}

func (s *AssignmentService) load(ctx context.Context, a *models.Assignment, rel *models.Relationship, viewerID string) (*ResolvedAssignment, error) {
	q, err := s.store.GetQuestion(ctx, a.QuestionID)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversationByAssignment(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return &ResolvedAssignment{
		Assignment:   a,
		Question:     q,
		Relationship: rel,
		Answers:      answers,
		Conversation: conv,
		GateStatus:   ComputeStatus(rel, answers, conv, viewerID),
		TimeLeft:     s.clock.TimeLeft(),
	}, nil
}
