package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"dearq/internal/models"
)

// memStore is an in-memory Store used by the service tests. Error fields
// inject one-shot failures to simulate lost races.
type memStore struct {
	mu sync.Mutex

	participants  map[string]*models.Participant
	relationships map[string]*models.Relationship
	questions     map[string]*models.Question
	assignments   map[string]*models.Assignment
	answers       map[string][]*models.Answer
	conversations map[string]*models.Conversation
	tokens        map[string]*models.ShareToken

	// soloMisses makes the next n ActiveSoloRelationship lookups come back
	// empty, simulating a reader that raced a concurrent insert.
	soloMisses          int
	insertQuestionsFail bool

	txDepth    int
	seededInTx bool
}

func newMemStore() *memStore {
	return &memStore{
		participants:  map[string]*models.Participant{},
		relationships: map[string]*models.Relationship{},
		questions:     map[string]*models.Question{},
		assignments:   map[string]*models.Assignment{},
		answers:       map[string][]*models.Answer{},
		conversations: map[string]*models.Conversation{},
		tokens:        map[string]*models.ShareToken{},
	}
}

func (s *memStore) RunInTx(_ context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	s.txDepth++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.txDepth--
		s.mu.Unlock()
	}()
	return fn(s)
}

// --- participants ---

func (s *memStore) GetParticipant(_ context.Context, id string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) CreateParticipant(_ context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.ID]; ok {
		return ErrDuplicate
	}
	cp := *p
	s.participants[p.ID] = &cp
	return nil
}

func (s *memStore) UpdateParticipantProfile(_ context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.participants[p.ID] = &cp
	return nil
}

// --- questions ---

func (s *memStore) CountActiveQuestions(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.questions {
		if q.Active {
			n++
		}
	}
	return n, nil
}

func (s *memStore) InsertQuestions(_ context.Context, qs []*models.Question) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertQuestionsFail {
		return 0, nil
	}
	if s.txDepth > 0 {
		s.seededInTx = true
	}
	created := 0
	for _, q := range qs {
		dup := false
		for _, existing := range s.questions {
			if existing.Content == q.Content {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		cp := *q
		s.questions[q.ID] = &cp
		created++
	}
	return created, nil
}

func (s *memStore) GetQuestion(_ context.Context, id string) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.questions[id]; ok {
		cp := *q
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) PickQuestion(_ context.Context, relationshipID string, interests []string) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, a := range s.assignments {
		if a.RelationshipID == relationshipID {
			seen[a.QuestionID] = true
		}
	}
	pick := func(withInterests, unseenOnly bool) *models.Question {
		var candidates []*models.Question
		for _, q := range s.questions {
			if !q.Active || (unseenOnly && seen[q.ID]) {
				continue
			}
			if withInterests {
				match := false
				for _, tag := range interests {
					if q.Category == tag {
						match = true
						break
					}
				}
				if !match {
					continue
				}
			}
			candidates = append(candidates, q)
		}
		if len(candidates) == 0 {
			return nil
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].TimesUsed != candidates[j].TimesUsed {
				return candidates[i].TimesUsed < candidates[j].TimesUsed
			}
			return candidates[i].ID < candidates[j].ID
		})
		cp := *candidates[0]
		return &cp
	}
	if len(interests) > 0 {
		if q := pick(true, true); q != nil {
			return q, nil
		}
	}
	if q := pick(false, true); q != nil {
		return q, nil
	}
	return pick(false, false), nil
}

func (s *memStore) IncrementQuestionUse(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.questions[id]; ok {
		q.TimesUsed++
	}
	return nil
}

// --- relationships ---

func (s *memStore) GetRelationship(_ context.Context, id string) (*models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.relationships[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) ActivePairedRelationship(_ context.Context, participantID string) (*models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.relationships {
		if r.Kind == models.KindPaired && r.Status == models.RelationshipActive &&
			(r.ParticipantA == participantID || r.ParticipantB == participantID) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) ActiveSoloRelationship(_ context.Context, participantID string) (*models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.soloMisses > 0 {
		s.soloMisses--
		return nil, nil
	}
	for _, r := range s.relationships {
		if r.Kind == models.KindSolo && r.Status == models.RelationshipActive && r.ParticipantA == participantID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateRelationship(_ context.Context, rel *models.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rel.Kind == models.KindSolo {
		for _, r := range s.relationships {
			if r.Kind == models.KindSolo && r.Status == models.RelationshipActive && r.ParticipantA == rel.ParticipantA {
				return ErrDuplicate
			}
		}
	}
	cp := *rel
	s.relationships[rel.ID] = &cp
	return nil
}

func (s *memStore) SetRelationshipStatus(_ context.Context, id string, status models.RelationshipStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.relationships[id]; ok {
		r.Status = status
	}
	return nil
}

// --- assignments ---

func (s *memStore) GetAssignment(_ context.Context, id string) (*models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assignments[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) GetAssignmentByDay(_ context.Context, relationshipID, serviceDay string) (*models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.RelationshipID == relationshipID && a.ServiceDay == serviceDay {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateAssignment(_ context.Context, a *models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assignments {
		if existing.RelationshipID == a.RelationshipID && existing.ServiceDay == a.ServiceDay {
			return ErrDuplicate
		}
	}
	cp := *a
	s.assignments[a.ID] = &cp
	return nil
}

func (s *memStore) SetAssignmentStatus(_ context.Context, id string, status models.AssignmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assignments[id]; ok {
		a.Status = status
	}
	return nil
}

func (s *memStore) SetAssignmentRelationship(_ context.Context, id, relationshipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assignments[id]; ok {
		a.RelationshipID = relationshipID
	}
	return nil
}

func (s *memStore) ListCompletedAssignments(_ context.Context, relationshipID string, limit int) ([]*models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Assignment
	for _, a := range s.assignments {
		if a.RelationshipID == relationshipID && a.Status == models.AssignmentCompleted {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceDay > out[j].ServiceDay })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- answers ---

func (s *memStore) ListAnswers(_ context.Context, assignmentID string) ([]*models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.answers[assignmentID]
	out := make([]*models.Answer, 0, len(src))
	for _, a := range src {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) CreateAnswer(_ context.Context, a *models.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.answers[a.AssignmentID] {
		if existing.ParticipantID == a.ParticipantID {
			return ErrDuplicate
		}
	}
	cp := *a
	s.answers[a.AssignmentID] = append(s.answers[a.AssignmentID], &cp)
	return nil
}

// --- conversations ---

func (s *memStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) GetConversationByAssignment(_ context.Context, assignmentID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.AssignmentID == assignmentID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateConversation(_ context.Context, c *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.conversations {
		if existing.AssignmentID == c.AssignmentID {
			return ErrDuplicate
		}
	}
	cp := *c
	s.conversations[c.ID] = &cp
	return nil
}

// --- share tokens ---

func (s *memStore) GetShareToken(_ context.Context, token string) (*models.ShareToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[token]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) PendingShareToken(_ context.Context, creatorID, assignmentID string, now time.Time) (*models.ShareToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.CreatorID == creatorID && t.AssignmentID == assignmentID &&
			t.Status == models.ShareTokenPending && t.ExpiresAt.After(now) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateShareToken(_ context.Context, t *models.ShareToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.Token]; ok {
		return ErrDuplicate
	}
	cp := *t
	s.tokens[t.Token] = &cp
	return nil
}

func (s *memStore) MarkShareTokenUsed(_ context.Context, token, relationshipID string, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok || t.Status != models.ShareTokenPending {
		return false, nil
	}
	t.Status = models.ShareTokenUsed
	t.RelationshipID = relationshipID
	ts := usedAt
	t.UsedAt = &ts
	return true, nil
}

// --- stats ---

func (s *memStore) CountParticipants(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants), nil
}

func (s *memStore) CountRelationships(_ context.Context, kind models.RelationshipKind, status models.RelationshipStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.relationships {
		if r.Kind == kind && r.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountAssignmentsByDay(_ context.Context, serviceDay string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.assignments {
		if a.ServiceDay == serviceDay {
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountAssignmentsByDayAndStatus(_ context.Context, serviceDay string, status models.AssignmentStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.assignments {
		if a.ServiceDay == serviceDay && a.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountConversations(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations), nil
}
