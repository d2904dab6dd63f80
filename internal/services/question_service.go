package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dearq/internal/models"
)

// seedQuestions is the fallback set used both by `dearq seed` and by pool
// recovery. Content is unique-keyed in the store, so reseeding over a
// partially populated table only fills the gaps.
var seedQuestions = []struct {
	content  string
	category string
}{
	{"What moment today were you most thankful for?", "daily"},
	{"If you had to sum up today in a single word, what would it be?", "daily"},
	{"Did you meet anyone today who left an impression on you?", "daily"},
	{"What new activity would you like to try together?", "family"},
	{"Whose trait in the family do you most wish you had?", "family"},
	{"Does our family have a tradition or rule that feels uniquely ours?", "family"},
	{"What childhood trip do you remember most vividly?", "memories"},
	{"Tell me one of your happiest childhood memories.", "memories"},
	{"What made you happiest recently?", "gratitude"},
	{"Who are you grateful to have by your side?", "gratitude"},
	{"Have you picked up any new hobby or interest lately?", "hobbies"},
	{"What is your favorite way to unwind when stressed?", "hobbies"},
	{"What is the best thing you have eaten recently?", "food"},
	{"Is there a food you have loved since childhood?", "food"},
	{"Is there something you are curious about or want to learn these days?", "learning"},
	{"What small goal do you want to reach before the year ends?", "future"},
	{"What comforts you when things get hard?", "comfort"},
	{"What do you love most about this season?", "seasons"},
}

// PoolStatus reports the outcome of an availability check.
type PoolStatus struct {
	Recovered       bool `json:"recovered"`
	ActiveQuestions int  `json:"active_questions"`
}

// QuestionService guards the question pool. Content can be emptied
// out-of-band (migrations, admin actions, tests); every assignment
// resolution re-checks and reseeds instead of assuming the pool is intact.
type QuestionService struct {
	store  TxStore
	logger *zap.Logger
	now    func() time.Time
	idGen  func() string
}

func NewQuestionService(store TxStore, logger *zap.Logger) *QuestionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuestionService{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		idGen:  uuid.NewString,
	}
}

// DefaultQuestions returns fresh rows for the fallback set.
func (s *QuestionService) DefaultQuestions() []*models.Question {
	now := s.now()
	out := make([]*models.Question, 0, len(seedQuestions))
	for _, q := range seedQuestions {
		out = append(out, &models.Question{
			ID:        s.idGen(),
			Content:   q.content,
			Category:  q.category,
			Active:    true,
			CreatedAt: now,
		})
	}
	return out
}

// EnsureAvailable verifies at least one active question exists, reseeding
// the default set if not. Callers must treat an error as service
// unavailability rather than create an assignment referencing no question.
func (s *QuestionService) EnsureAvailable(ctx context.Context) (*PoolStatus, error) {
	active, err := s.store.CountActiveQuestions(ctx)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return &PoolStatus{ActiveQuestions: active}, nil
	}

	// The whole fallback set lands or none of it does; a partial seed would
	// skew selection until the next recovery.
	var created int
	err = s.store.RunInTx(ctx, func(tx Store) error {
		var err error
		created, err = tx.InsertQuestions(ctx, s.DefaultQuestions())
		return err
	})
	if err != nil {
		return nil, err
	}
	active, err = s.store.CountActiveQuestions(ctx)
	if err != nil {
		return nil, err
	}
	if active == 0 {
		return nil, NewUnavailableError("no questions are available right now")
	}
	s.logger.Warn("question pool was empty, reseeded defaults",
		zap.Int("created", created),
		zap.Int("active", active))
	return &PoolStatus{Recovered: true, ActiveQuestions: active}, nil
}
