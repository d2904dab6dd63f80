package models

import "time"

// Participant is a person using the service. Identity comes from the
// external login flow; we only keep the profile fields collected during
// onboarding.
type Participant struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Label       string     `json:"label,omitempty"`
	Bio         string     `json:"bio,omitempty"`
	Interests   []string   `json:"interests,omitempty"`
	OnboardedAt *time.Time `json:"onboarded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Onboarded reports whether the participant has completed profile setup.
func (p *Participant) Onboarded() bool { return p != nil && p.OnboardedAt != nil }

type RelationshipKind string

const (
	KindSolo   RelationshipKind = "solo"
	KindPaired RelationshipKind = "paired"
)

type RelationshipStatus string

const (
	RelationshipPending   RelationshipStatus = "pending"
	RelationshipActive    RelationshipStatus = "active"
	RelationshipBlocked   RelationshipStatus = "blocked"
	RelationshipDeleted   RelationshipStatus = "deleted"
	RelationshipConverted RelationshipStatus = "converted"
)

// Relationship links two participants, or stands in as a solo placeholder
// for a participant who has not paired yet. A solo relationship has
// ParticipantB empty and is retired (converted) when promoted.
type Relationship struct {
	ID           string             `json:"id"`
	Kind         RelationshipKind   `json:"kind"`
	ParticipantA string             `json:"participant_a"`
	ParticipantB string             `json:"participant_b,omitempty"`
	Status       RelationshipStatus `json:"status"`
	ConnectedAt  *time.Time         `json:"connected_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Includes reports whether the participant is a party to this relationship.
func (r *Relationship) Includes(participantID string) bool {
	if r == nil {
		return false
	}
	return r.ParticipantA == participantID || (r.Kind == KindPaired && r.ParticipantB == participantID)
}

// PartnerOf returns the other party of a paired relationship, or "" for a
// solo relationship or a non-party.
func (r *Relationship) PartnerOf(participantID string) string {
	if r == nil || r.Kind != KindPaired {
		return ""
	}
	switch participantID {
	case r.ParticipantA:
		return r.ParticipantB
	case r.ParticipantB:
		return r.ParticipantA
	}
	return ""
}

type Question struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	Active    bool      `json:"active"`
	TimesUsed int       `json:"times_used"`
	CreatedAt time.Time `json:"created_at"`
}

type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentExpired   AssignmentStatus = "expired"
)

// Assignment is the unit of work: one question for one relationship on one
// service day. At most one row exists per (relationship, service day).
type Assignment struct {
	ID             string           `json:"id"`
	RelationshipID string           `json:"relationship_id"`
	QuestionID     string           `json:"question_id"`
	ServiceDay     string           `json:"service_day"`
	Status         AssignmentStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Answer is one participant's submission for an assignment. Submission is a
// single create; at most one row exists per (assignment, participant).
type Answer struct {
	ID            string    `json:"id"`
	AssignmentID  string    `json:"assignment_id"`
	ParticipantID string    `json:"participant_id"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// Conversation is the durable reveal record. Its existence means both
// answers are visible; at most one row exists per assignment.
type Conversation struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	CreatedAt    time.Time `json:"created_at"`
}

type ShareTokenStatus string

const (
	ShareTokenPending ShareTokenStatus = "pending"
	ShareTokenUsed    ShareTokenStatus = "used"
	ShareTokenExpired ShareTokenStatus = "expired"
)

// ShareToken is a single-use capability. A token with AssignmentID set
// grants a stranger the right to answer that solo assignment; without it the
// token is a plain pairing invite. RelationshipID is bound atomically with
// the pending -> used transition.
type ShareToken struct {
	ID             string           `json:"id"`
	Token          string           `json:"token"`
	CreatorID      string           `json:"creator_id"`
	AssignmentID   string           `json:"assignment_id,omitempty"`
	Message        string           `json:"message,omitempty"`
	Status         ShareTokenStatus `json:"status"`
	ExpiresAt      time.Time        `json:"expires_at"`
	UsedAt         *time.Time       `json:"used_at,omitempty"`
	RelationshipID string           `json:"relationship_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
