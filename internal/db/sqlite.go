package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"dearq/internal/models"
	"dearq/internal/services"
)

// execer is satisfied by both *sql.DB and *sql.Tx, so every query method
// works inside and outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store implements services.Store over sqlite.
type Store struct {
	db *sql.DB
	q  execer
}

// Open opens the sqlite database file. _txlock=immediate makes write
// transactions take the write lock up front, which is what RunInTx relies
// on for its atomicity guarantees.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path)
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return sqldb, nil
}

func New(sqldb *sql.DB) (*Store, error) {
	if sqldb == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := sqldb.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &Store{db: sqldb, q: sqldb}, nil
}

// RunInTx runs fn against a transaction-scoped view of the store. Nested
// calls reuse the surrounding transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx services.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// mapErr converts sqlite uniqueness violations into the store contract's
// duplicate sentinel.
func mapErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return services.ErrDuplicate
		}
	}
	return err
}

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func encodeStrings(v []string) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeStrings(ns sql.NullString) []string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}

// --- participants ---

const participantCols = "id, display_name, label, bio, interests, onboarded_at, created_at"

func scanParticipant(r rowScanner) (*models.Participant, error) {
	var p models.Participant
	var interests sql.NullString
	var onboarded sql.NullTime
	if err := r.Scan(&p.ID, &p.DisplayName, &p.Label, &p.Bio, &interests, &onboarded, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Interests = decodeStrings(interests)
	p.OnboardedAt = fromNullTime(onboarded)
	return &p, nil
}

func (s *Store) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+participantCols+" FROM participants WHERE id = ?", id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (s *Store) CreateParticipant(ctx context.Context, p *models.Participant) error {
	interests, err := encodeStrings(p.Interests)
	if err != nil {
		return fmt.Errorf("encode interests: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO participants (id, display_name, label, bio, interests, onboarded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DisplayName, p.Label, p.Bio, interests, toNullTime(p.OnboardedAt), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create participant: %w", mapErr(err))
	}
	return nil
}

func (s *Store) UpdateParticipantProfile(ctx context.Context, p *models.Participant) error {
	interests, err := encodeStrings(p.Interests)
	if err != nil {
		return fmt.Errorf("encode interests: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		UPDATE participants
		SET display_name = ?, label = ?, bio = ?, interests = ?, onboarded_at = ?
		WHERE id = ?`,
		p.DisplayName, p.Label, p.Bio, interests, toNullTime(p.OnboardedAt), p.ID)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	return nil
}

// --- questions ---

const questionCols = "id, content, category, is_active, times_used, created_at"

func scanQuestion(r rowScanner) (*models.Question, error) {
	var q models.Question
	var active int64
	if err := r.Scan(&q.ID, &q.Content, &q.Category, &active, &q.TimesUsed, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.Active = active != 0
	return &q, nil
}

func (s *Store) CountActiveQuestions(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM questions WHERE is_active = 1").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active questions: %w", err)
	}
	return n, nil
}

func (s *Store) InsertQuestions(ctx context.Context, qs []*models.Question) (int, error) {
	created := 0
	for _, q := range qs {
		active := 0
		if q.Active {
			active = 1
		}
		res, err := s.q.ExecContext(ctx, `
			INSERT INTO questions (id, content, category, is_active, times_used, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (content) DO NOTHING`,
			q.ID, q.Content, q.Category, active, q.TimesUsed, q.CreatedAt)
		if err != nil {
			return created, fmt.Errorf("insert question: %w", mapErr(err))
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			created++
		}
	}
	return created, nil
}

func (s *Store) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+questionCols+" FROM questions WHERE id = ?", id)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	return q, nil
}

// PickQuestion tries, in order: an unseen active question in one of the
// interest categories, any unseen active question, any active question.
// "Unseen" means never assigned to this relationship.
func (s *Store) PickQuestion(ctx context.Context, relationshipID string, interests []string) (*models.Question, error) {
	const unseen = " AND id NOT IN (SELECT question_id FROM assignments WHERE relationship_id = ?)"
	const order = " ORDER BY times_used ASC, id ASC LIMIT 1"
	base := "SELECT " + questionCols + " FROM questions WHERE is_active = 1"

	if len(interests) > 0 {
		args := []any{}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(interests)), ", ")
		for _, tag := range interests {
			args = append(args, tag)
		}
		args = append(args, relationshipID)
		q, err := s.pickOne(ctx, base+" AND category IN ("+placeholders+")"+unseen+order, args...)
		if err != nil || q != nil {
			return q, err
		}
	}
	q, err := s.pickOne(ctx, base+unseen+order, relationshipID)
	if err != nil || q != nil {
		return q, err
	}
	return s.pickOne(ctx, base+order)
}

func (s *Store) pickOne(ctx context.Context, query string, args ...any) (*models.Question, error) {
	q, err := scanQuestion(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick question: %w", err)
	}
	return q, nil
}

func (s *Store) IncrementQuestionUse(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx, "UPDATE questions SET times_used = times_used + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("increment question use: %w", err)
	}
	return nil
}

// --- relationships ---

const relationshipCols = "id, kind, participant_a, participant_b, status, connected_at, created_at"

func scanRelationship(r rowScanner) (*models.Relationship, error) {
	var rel models.Relationship
	var b sql.NullString
	var connected sql.NullTime
	if err := r.Scan(&rel.ID, &rel.Kind, &rel.ParticipantA, &b, &rel.Status, &connected, &rel.CreatedAt); err != nil {
		return nil, err
	}
	rel.ParticipantB = b.String
	rel.ConnectedAt = fromNullTime(connected)
	return &rel, nil
}

func (s *Store) relationshipRow(ctx context.Context, query string, args ...any) (*models.Relationship, error) {
	rel, err := scanRelationship(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	return rel, nil
}

func (s *Store) GetRelationship(ctx context.Context, id string) (*models.Relationship, error) {
	return s.relationshipRow(ctx,
		"SELECT "+relationshipCols+" FROM relationships WHERE id = ?", id)
}

func (s *Store) ActivePairedRelationship(ctx context.Context, participantID string) (*models.Relationship, error) {
	return s.relationshipRow(ctx,
		"SELECT "+relationshipCols+` FROM relationships
		WHERE kind = 'paired' AND status = 'active'
		  AND (participant_a = ? OR participant_b = ?)
		LIMIT 1`, participantID, participantID)
}

func (s *Store) ActiveSoloRelationship(ctx context.Context, participantID string) (*models.Relationship, error) {
	return s.relationshipRow(ctx,
		"SELECT "+relationshipCols+` FROM relationships
		WHERE kind = 'solo' AND status = 'active' AND participant_a = ?
		LIMIT 1`, participantID)
}

func (s *Store) CreateRelationship(ctx context.Context, rel *models.Relationship) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO relationships (id, kind, participant_a, participant_b, status, connected_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rel.ID, rel.Kind, rel.ParticipantA, toNullString(rel.ParticipantB),
		rel.Status, toNullTime(rel.ConnectedAt), rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("create relationship: %w", mapErr(err))
	}
	return nil
}

func (s *Store) SetRelationshipStatus(ctx context.Context, id string, status models.RelationshipStatus) error {
	_, err := s.q.ExecContext(ctx, "UPDATE relationships SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("set relationship status: %w", err)
	}
	return nil
}

// --- assignments ---

const assignmentCols = "id, relationship_id, question_id, service_day, status, created_at"

func scanAssignment(r rowScanner) (*models.Assignment, error) {
	var a models.Assignment
	if err := r.Scan(&a.ID, &a.RelationshipID, &a.QuestionID, &a.ServiceDay, &a.Status, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) assignmentRow(ctx context.Context, query string, args ...any) (*models.Assignment, error) {
	a, err := scanAssignment(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	return s.assignmentRow(ctx,
		"SELECT "+assignmentCols+" FROM assignments WHERE id = ?", id)
}

func (s *Store) GetAssignmentByDay(ctx context.Context, relationshipID, serviceDay string) (*models.Assignment, error) {
	return s.assignmentRow(ctx,
		"SELECT "+assignmentCols+" FROM assignments WHERE relationship_id = ? AND service_day = ?",
		relationshipID, serviceDay)
}

func (s *Store) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO assignments (id, relationship_id, question_id, service_day, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.RelationshipID, a.QuestionID, a.ServiceDay, a.Status, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create assignment: %w", mapErr(err))
	}
	return nil
}

func (s *Store) SetAssignmentStatus(ctx context.Context, id string, status models.AssignmentStatus) error {
	_, err := s.q.ExecContext(ctx, "UPDATE assignments SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("set assignment status: %w", err)
	}
	return nil
}

func (s *Store) SetAssignmentRelationship(ctx context.Context, id, relationshipID string) error {
	_, err := s.q.ExecContext(ctx, "UPDATE assignments SET relationship_id = ? WHERE id = ?", relationshipID, id)
	if err != nil {
		return fmt.Errorf("set assignment relationship: %w", mapErr(err))
	}
	return nil
}

func (s *Store) ListCompletedAssignments(ctx context.Context, relationshipID string, limit int) ([]*models.Assignment, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+assignmentCols+` FROM assignments
		WHERE relationship_id = ? AND status = 'completed'
		ORDER BY service_day DESC LIMIT ?`, relationshipID, limit)
	if err != nil {
		return nil, fmt.Errorf("list completed assignments: %w", err)
	}
	defer rows.Close()

	var out []*models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- answers ---

const answerCols = "id, assignment_id, participant_id, content, created_at"

func (s *Store) ListAnswers(ctx context.Context, assignmentID string) ([]*models.Answer, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+answerCols+" FROM answers WHERE assignment_id = ? ORDER BY created_at ASC, id ASC",
		assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var out []*models.Answer
	for rows.Next() {
		var a models.Answer
		if err := rows.Scan(&a.ID, &a.AssignmentID, &a.ParticipantID, &a.Content, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) CreateAnswer(ctx context.Context, a *models.Answer) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO answers (id, assignment_id, participant_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.AssignmentID, a.ParticipantID, a.Content, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create answer: %w", mapErr(err))
	}
	return nil
}

// --- conversations ---

const conversationCols = "id, assignment_id, created_at"

func (s *Store) conversationRow(ctx context.Context, query string, args ...any) (*models.Conversation, error) {
	var c models.Conversation
	err := s.q.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.AssignmentID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return s.conversationRow(ctx,
		"SELECT "+conversationCols+" FROM conversations WHERE id = ?", id)
}

func (s *Store) GetConversationByAssignment(ctx context.Context, assignmentID string) (*models.Conversation, error) {
	return s.conversationRow(ctx,
		"SELECT "+conversationCols+" FROM conversations WHERE assignment_id = ?", assignmentID)
}

func (s *Store) CreateConversation(ctx context.Context, c *models.Conversation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO conversations (id, assignment_id, created_at)
		VALUES (?, ?, ?)`,
		c.ID, c.AssignmentID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", mapErr(err))
	}
	return nil
}

// --- share tokens ---

const shareTokenCols = "id, token, creator_id, assignment_id, message, status, expires_at, used_at, relationship_id, created_at"

func scanShareToken(r rowScanner) (*models.ShareToken, error) {
	var t models.ShareToken
	var assignmentID, relationshipID sql.NullString
	var usedAt sql.NullTime
	if err := r.Scan(&t.ID, &t.Token, &t.CreatorID, &assignmentID, &t.Message, &t.Status,
		&t.ExpiresAt, &usedAt, &relationshipID, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.AssignmentID = assignmentID.String
	t.RelationshipID = relationshipID.String
	t.UsedAt = fromNullTime(usedAt)
	return &t, nil
}

func (s *Store) shareTokenRow(ctx context.Context, query string, args ...any) (*models.ShareToken, error) {
	t, err := scanShareToken(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share token: %w", err)
	}
	return t, nil
}

func (s *Store) GetShareToken(ctx context.Context, token string) (*models.ShareToken, error) {
	return s.shareTokenRow(ctx,
		"SELECT "+shareTokenCols+" FROM share_tokens WHERE token = ?", token)
}

func (s *Store) PendingShareToken(ctx context.Context, creatorID, assignmentID string, now time.Time) (*models.ShareToken, error) {
	if assignmentID == "" {
		return s.shareTokenRow(ctx,
			"SELECT "+shareTokenCols+` FROM share_tokens
			WHERE creator_id = ? AND assignment_id IS NULL AND status = 'pending' AND expires_at > ?
			ORDER BY created_at DESC LIMIT 1`, creatorID, now)
	}
	return s.shareTokenRow(ctx,
		"SELECT "+shareTokenCols+` FROM share_tokens
		WHERE creator_id = ? AND assignment_id = ? AND status = 'pending' AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1`, creatorID, assignmentID, now)
}

func (s *Store) CreateShareToken(ctx context.Context, t *models.ShareToken) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO share_tokens (id, token, creator_id, assignment_id, message, status, expires_at, used_at, relationship_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Token, t.CreatorID, toNullString(t.AssignmentID), t.Message, t.Status,
		t.ExpiresAt, toNullTime(t.UsedAt), toNullString(t.RelationshipID), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create share token: %w", mapErr(err))
	}
	return nil
}

func (s *Store) MarkShareTokenUsed(ctx context.Context, token, relationshipID string, usedAt time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE share_tokens
		SET status = 'used', used_at = ?, relationship_id = ?
		WHERE token = ? AND status = 'pending'`,
		usedAt, relationshipID, token)
	if err != nil {
		return false, fmt.Errorf("mark share token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark share token used: %w", err)
	}
	return n > 0, nil
}

// --- stats ---

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (s *Store) CountParticipants(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM participants")
}

func (s *Store) CountRelationships(ctx context.Context, kind models.RelationshipKind, status models.RelationshipStatus) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM relationships WHERE kind = ? AND status = ?", kind, status)
}

func (s *Store) CountAssignmentsByDay(ctx context.Context, serviceDay string) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM assignments WHERE service_day = ?", serviceDay)
}

func (s *Store) CountAssignmentsByDayAndStatus(ctx context.Context, serviceDay string, status models.AssignmentStatus) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM assignments WHERE service_day = ? AND status = ?", serviceDay, status)
}

func (s *Store) CountConversations(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM conversations")
}
