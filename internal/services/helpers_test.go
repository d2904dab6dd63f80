package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"dearq/internal/models"
)

// testInstant is noon UTC, well inside service day 2026-03-01 for the
// default offset (+9) and cutoff (5): the day ends at 20:00 UTC.
var testInstant = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testServiceDay = "2026-03-01"

func testClock() *DayClock {
	return NewDayClock(9, 5).WithNow(func() time.Time { return testInstant })
}

// seqIDs returns a deterministic id generator for one test.
func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func seedParticipant(t *testing.T, s *memStore, id string, onboarded bool) *models.Participant {
	t.Helper()
	p := &models.Participant{ID: id, DisplayName: "user " + id, CreatedAt: testInstant}
	if onboarded {
		at := testInstant
		p.OnboardedAt = &at
		p.Interests = []string{"daily"}
	}
	if err := s.CreateParticipant(context.Background(), p); err != nil {
		t.Fatalf("seed participant %s: %v", id, err)
	}
	return p
}

func seedQuestion(t *testing.T, s *memStore, id, category string) *models.Question {
	t.Helper()
	q := &models.Question{ID: id, Content: "question " + id, Category: category, Active: true, CreatedAt: testInstant}
	if _, err := s.InsertQuestions(context.Background(), []*models.Question{q}); err != nil {
		t.Fatalf("seed question %s: %v", id, err)
	}
	return q
}

func seedSolo(t *testing.T, s *memStore, id, owner string) *models.Relationship {
	t.Helper()
	rel := &models.Relationship{
		ID:           id,
		Kind:         models.KindSolo,
		ParticipantA: owner,
		Status:       models.RelationshipActive,
		CreatedAt:    testInstant,
	}
	if err := s.CreateRelationship(context.Background(), rel); err != nil {
		t.Fatalf("seed solo relationship %s: %v", id, err)
	}
	return rel
}

func seedPair(t *testing.T, s *memStore, id, a, b string) *models.Relationship {
	t.Helper()
	at := testInstant
	rel := &models.Relationship{
		ID:           id,
		Kind:         models.KindPaired,
		ParticipantA: a,
		ParticipantB: b,
		Status:       models.RelationshipActive,
		ConnectedAt:  &at,
		CreatedAt:    testInstant,
	}
	if err := s.CreateRelationship(context.Background(), rel); err != nil {
		t.Fatalf("seed paired relationship %s: %v", id, err)
	}
	return rel
}

func seedAssignment(t *testing.T, s *memStore, id, relID, questionID, day string) *models.Assignment {
	t.Helper()
	a := &models.Assignment{
		ID:             id,
		RelationshipID: relID,
		QuestionID:     questionID,
		ServiceDay:     day,
		Status:         models.AssignmentActive,
		CreatedAt:      testInstant,
	}
	if err := s.CreateAssignment(context.Background(), a); err != nil {
		t.Fatalf("seed assignment %s: %v", id, err)
	}
	return a
}

func seedAnswer(t *testing.T, s *memStore, id, assignmentID, participantID string) *models.Answer {
	t.Helper()
	a := &models.Answer{
		ID:            id,
		AssignmentID:  assignmentID,
		ParticipantID: participantID,
		Content:       "answer " + id,
		CreatedAt:     testInstant,
	}
	if err := s.CreateAnswer(context.Background(), a); err != nil {
		t.Fatalf("seed answer %s: %v", id, err)
	}
	return a
}

func seedToken(t *testing.T, s *memStore, token, creatorID, assignmentID string, expiresAt time.Time) *models.ShareToken {
	t.Helper()
	st := &models.ShareToken{
		ID:           "st-" + token,
		Token:        token,
		CreatorID:    creatorID,
		AssignmentID: assignmentID,
		Message:      "join me",
		Status:       models.ShareTokenPending,
		ExpiresAt:    expiresAt,
		CreatedAt:    testInstant,
	}
	if err := s.CreateShareToken(context.Background(), st); err != nil {
		t.Fatalf("seed share token %s: %v", token, err)
	}
	return st
}

// wantServiceError asserts err is a ServiceError with the given code.
func wantServiceError(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	se, ok := AsServiceError(err)
	if !ok {
		t.Fatalf("expected ServiceError with code %s, got %v", code, err)
	}
	if se.Code != code {
		t.Fatalf("expected error code %s, got %s (%s)", code, se.Code, se.Message)
	}
}
