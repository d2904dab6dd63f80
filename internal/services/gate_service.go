package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dearq/internal/models"
)

// GateStatus is a pure function of the answer set, the conversation row and
// the viewer; there is no hidden gate state to go stale.
type GateStatus string

const (
	// GateWaiting: paired assignment, nobody has answered yet.
	GateWaiting GateStatus = "waiting"
	// GateNeedMyAnswer: the partner answered, the viewer has not.
	GateNeedMyAnswer GateStatus = "need_my_answer"
	// GateWaitingPartner: the viewer answered, the partner has not.
	GateWaitingPartner GateStatus = "waiting_partner"
	// GateOpened: both answers present, conversation exists.
	GateOpened GateStatus = "opened"
	// GateSoloMode: solo assignment; the viewer may answer and/or share.
	GateSoloMode GateStatus = "solo_mode"
)

// ComputeStatus derives the gate state for one viewer.
func ComputeStatus(rel *models.Relationship, answers []*models.Answer, conv *models.Conversation, viewerID string) GateStatus {
	if rel != nil && rel.Kind == models.KindSolo {
		return GateSoloMode
	}
	mine := false
	for _, a := range answers {
		if a.ParticipantID == viewerID {
			mine = true
			break
		}
	}
	if conv != nil && len(answers) >= 2 {
		return GateOpened
	}
	if mine {
		if len(answers) < 2 {
			return GateWaitingPartner
		}
		return GateOpened
	}
	if len(answers) == 0 {
		return GateWaiting
	}
	return GateNeedMyAnswer
}

// Notifier delivers the gate-opened signal. Delivery is best-effort; a
// failure never rolls back or fails the answer submission.
type Notifier interface {
	NotifyGateOpened(ctx context.Context, assignmentID string) error
}

type logNotifier struct{ logger *zap.Logger }

// NewLogNotifier returns a Notifier that only logs. The real dispatcher
// (push/SMS) lives outside this module and plugs in through the interface.
func NewLogNotifier(logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logNotifier{logger: logger}
}

func (n *logNotifier) NotifyGateOpened(_ context.Context, assignmentID string) error {
	n.logger.Info("gate opened", zap.String("assignment_id", assignmentID))
	return nil
}

const maxAnswerRunes = 1000

type SubmitInput struct {
	AssignmentID  string
	ParticipantID string
	Content       string
	// ShareToken authorizes a stranger to answer someone else's solo
	// assignment, triggering the solo -> paired promotion.
	ShareToken string
}

type SubmitResult struct {
	GateStatus     GateStatus `json:"gate_status"`
	ConversationID string     `json:"conversation_id,omitempty"`
	RelationshipID string     `json:"relationship_id,omitempty"`
	ModeTransition bool       `json:"mode_transition,omitempty"`
	LastAnswerer   bool       `json:"last_answerer,omitempty"`
}

// GateService commits answers and advances assignment state. The whole
// submission (answer row, completion, conversation, promotion, token use)
// commits in one transaction or not at all.
type GateService struct {
	store    TxStore
	clock    *DayClock
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	idGen    func() string
}

func NewGateService(store TxStore, clock *DayClock, notifier Notifier, logger *zap.Logger) *GateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &GateService{
		store:    store,
		clock:    clock,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    uuid.NewString,
	}
}

// Submit stores an answer and performs the exactly-once reveal when it is
// the second of the pair. Near-simultaneous submissions from both sides are
// settled by the conversation's unique constraint: exactly one caller
// creates it and reports LastAnswerer.
func (s *GateService) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, NewInvalidError("answer content is required")
	}
	if len([]rune(content)) > maxAnswerRunes {
		return nil, NewInvalidError("answer must be 1000 characters or fewer")
	}

	var res SubmitResult
	err := s.store.RunInTx(ctx, func(tx Store) error {
		a, err := tx.GetAssignment(ctx, in.AssignmentID)
		if err != nil {
			return err
		}
		if a == nil {
			return NewNotFoundError("assignment not found")
		}
		if a.Status != models.AssignmentActive {
			return NewExpiredError("this assignment is already completed or expired")
		}
		if s.clock.Elapsed(a.ServiceDay) {
			return NewExpiredError("the day for this question is over")
		}
		rel, err := tx.GetRelationship(ctx, a.RelationshipID)
		if err != nil {
			return err
		}
		if rel == nil {
			return NewNotFoundError("assignment not found")
		}
		answers, err := tx.ListAnswers(ctx, a.ID)
		if err != nil {
			return err
		}

		if rel.Kind == models.KindSolo && rel.ParticipantA != in.ParticipantID {
			return s.promote(ctx, tx, a, rel, answers, in, content, &res)
		}
		if !rel.Includes(in.ParticipantID) {
			return NewForbiddenError("you cannot answer this assignment")
		}
		for _, existing := range answers {
			if existing.ParticipantID == in.ParticipantID {
				return NewConflictError("you already answered this question")
			}
		}

		if err := tx.CreateAnswer(ctx, &models.Answer{
			ID:            s.idGen(),
			AssignmentID:  a.ID,
			ParticipantID: in.ParticipantID,
			Content:       content,
			CreatedAt:     s.now(),
		}); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return NewConflictError("you already answered this question")
			}
			return err
		}

		res.RelationshipID = rel.ID
		if rel.Kind == models.KindSolo {
			res.GateStatus = GateSoloMode
			return nil
		}

		answers, err = tx.ListAnswers(ctx, a.ID)
		if err != nil {
			return err
		}
		if distinctAnswerers(answers) >= 2 {
			conv, err := s.openGate(ctx, tx, a.ID)
			if err != nil {
				return err
			}
			res.GateStatus = GateOpened
			res.ConversationID = conv.ID
			res.LastAnswerer = true
			return nil
		}
		res.GateStatus = GateWaitingPartner
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.GateStatus == GateOpened {
		if err := s.notifier.NotifyGateOpened(ctx, in.AssignmentID); err != nil {
			s.logger.Warn("gate-opened notification failed",
				zap.String("assignment_id", in.AssignmentID), zap.Error(err))
		}
	}
	return &res, nil
}

// promote turns a solo assignment into a paired one when a stranger answers
// through a share link: new active relationship, assignment re-pointed
// (question and service day preserved), answer appended, gate opened. All in
// the caller's transaction.
func (s *GateService) promote(ctx context.Context, tx Store, a *models.Assignment, solo *models.Relationship, answers []*models.Answer, in SubmitInput, content string, res *SubmitResult) error {
	if in.ShareToken == "" {
		return NewForbiddenError("you cannot answer this assignment")
	}
	st, err := tx.GetShareToken(ctx, in.ShareToken)
	if err != nil {
		return err
	}
	if st == nil {
		return NewNotFoundError("unknown share link")
	}
	if err := checkTokenUsable(st, s.now()); err != nil {
		return err
	}
	owner := solo.ParticipantA
	if st.CreatorID != owner || (st.AssignmentID != "" && st.AssignmentID != a.ID) {
		return NewForbiddenError("this share link does not match the assignment")
	}

	ownerAnswered := false
	for _, existing := range answers {
		if existing.ParticipantID == owner {
			ownerAnswered = true
			break
		}
	}
	if !ownerAnswered {
		return NewConflictError("the owner has not answered this question yet")
	}

	// Both sides must still be free; time may have passed since the link
	// was issued.
	if paired, err := tx.ActivePairedRelationship(ctx, in.ParticipantID); err != nil {
		return err
	} else if paired != nil {
		return NewConflictError("you are already connected to a companion")
	}
	if paired, err := tx.ActivePairedRelationship(ctx, owner); err != nil {
		return err
	} else if paired != nil {
		return NewConflictError("the inviter is already connected to a companion")
	}

	now := s.now()
	pair := &models.Relationship{
		ID:           s.idGen(),
		Kind:         models.KindPaired,
		ParticipantA: owner,
		ParticipantB: in.ParticipantID,
		Status:       models.RelationshipActive,
		ConnectedAt:  &now,
		CreatedAt:    now,
	}
	if err := tx.CreateRelationship(ctx, pair); err != nil {
		return err
	}
	if err := tx.SetAssignmentRelationship(ctx, a.ID, pair.ID); err != nil {
		return err
	}
	if err := tx.SetRelationshipStatus(ctx, solo.ID, models.RelationshipConverted); err != nil {
		return err
	}
	// The answerer may have resolved their own solo assignment before
	// accepting the link; that placeholder is retired here too.
	if stray, err := tx.ActiveSoloRelationship(ctx, in.ParticipantID); err != nil {
		return err
	} else if stray != nil {
		if err := tx.SetRelationshipStatus(ctx, stray.ID, models.RelationshipConverted); err != nil {
			return err
		}
	}
	if err := tx.CreateAnswer(ctx, &models.Answer{
		ID:            s.idGen(),
		AssignmentID:  a.ID,
		ParticipantID: in.ParticipantID,
		Content:       content,
		CreatedAt:     now,
	}); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return NewConflictError("you already answered this question")
		}
		return err
	}
	ok, err := tx.MarkShareTokenUsed(ctx, st.Token, pair.ID, now)
	if err != nil {
		return err
	}
	if !ok {
		// Lost a race with another consumer of the same link.
		return NewConflictError("this share link was already used")
	}

	conv, err := s.openGate(ctx, tx, a.ID)
	if err != nil {
		return err
	}
	res.GateStatus = GateOpened
	res.ConversationID = conv.ID
	res.RelationshipID = pair.ID
	res.ModeTransition = true
	res.LastAnswerer = true
	s.logger.Info("solo assignment promoted",
		zap.String("assignment_id", a.ID),
		zap.String("relationship_id", pair.ID),
		zap.String("owner_id", owner),
		zap.String("partner_id", in.ParticipantID))
	return nil
}

// openGate creates the conversation exactly once and marks the assignment
// completed. A concurrent winner's row is reused via the unique constraint.
func (s *GateService) openGate(ctx context.Context, tx Store, assignmentID string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:           s.idGen(),
		AssignmentID: assignmentID,
		CreatedAt:    s.now(),
	}
	if err := tx.CreateConversation(ctx, conv); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			return nil, err
		}
		existing, err := tx.GetConversationByAssignment(ctx, assignmentID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, NewConflictError("conversation is being created, retry")
		}
		return existing, nil
	}
	if err := tx.SetAssignmentStatus(ctx, assignmentID, models.AssignmentCompleted); err != nil {
		return nil, err
	}
	return conv, nil
}

func distinctAnswerers(answers []*models.Answer) int {
	seen := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		seen[a.ParticipantID] = struct{}{}
	}
	return len(seen)
}
