package schema

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Survey is the tenant record. It is the only table that lives in the shared
// namespace, every other model below is stored once per tenant namespace.
type Survey struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name      string `gorm:"size:255;not null"`
	Namespace string `gorm:"size:63;unique;not null"`
	Status    string `gorm:"size:20;not null;default:'active'"`

	ContractEndDate *time.Time `gorm:"type:date"`
	DeletionDueDate *time.Time `gorm:"type:date"`

	// Kept recoverable so the admin console can display it again.
	AccessSecret string `gorm:"size:64;not null"`

	Notes *string

	CreatedAt time.Time
}

const (
	SurveyActive    = "active"
	SurveySuspended = "suspended"
	SurveyDeleted   = "deleted"
)

func (s *Survey) IsActive() bool {
	return s.Status == SurveyActive
}

const (
	QuestionsTable    = "questions"
	RawResponsesTable = "raw_responses"
	RawAnswersTable   = "raw_answers"
	OpinionsTable     = "published_opinions"
	UpvotesTable      = "upvotes"
)

// TenantTables lists the per tenant tables in creation order.
var TenantTables = []string{QuestionsTable, RawResponsesTable, RawAnswersTable, OpinionsTable, UpvotesTable}

const (
	TextQuestion     = "text"
	TextareaQuestion = "textarea"
	SelectQuestion   = "select"
	RadioQuestion    = "radio"
)

type Question struct {
	Id       int64     `gorm:"primaryKey"`
	SurveyId uuid.UUID `gorm:"type:uuid;not null"`

	Label        string   `gorm:"size:512;not null"`
	QuestionType string   `gorm:"size:20;not null"`
	Options      []string `gorm:"serializer:json"`

	IsRequired     bool `gorm:"not null;default:false"`
	IsPersonalData bool `gorm:"not null;default:false"`
}

type RawResponse struct {
	Id          uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubmittedAt time.Time `gorm:"not null"`
}

type RawAnswer struct {
	Id         int64     `gorm:"primaryKey"`
	ResponseId uuid.UUID `gorm:"type:uuid;not null"`
	QuestionId int64     `gorm:"not null"`

	AnswerText         string `gorm:"not null"`
	IsDisclosureAgreed bool   `gorm:"not null;default:false"`
}

type PublishedOpinion struct {
	Id int64 `gorm:"primaryKey"`

	// Soft reference, raw responses are never joined by constraint.
	RawResponseId uuid.UUID `gorm:"type:uuid;not null"`

	Title      string `gorm:"size:512;not null"`
	Content    string `gorm:"not null"`
	AdminNotes *string

	Importance      int `gorm:"not null;default:0"`
	Urgency         int `gorm:"not null;default:0"`
	ExpectedImpact  int `gorm:"not null;default:0"`
	SupporterPoints int `gorm:"not null;default:0"`
	PriorityScore   int `gorm:"not null;default:0"`

	DisclosedPii map[string]string `gorm:"serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	UpvotePending   = "pending"
	UpvotePublished = "published"
	UpvoteRejected  = "rejected"
)

type Upvote struct {
	Id        int64  `gorm:"primaryKey"`
	OpinionId int64  `gorm:"not null"`
	UserHash  string `gorm:"size:64;not null"`

	RawComment       *string
	PublishedComment *string
	Status           string `gorm:"size:20;not null"`

	IsDisclosureAgreed bool              `gorm:"not null;default:false"`
	DisclosedPii       map[string]string `gorm:"serializer:json"`

	CreatedAt time.Time
}

// TenantDB resolves a tenant table name to a query scoped to one namespace.
type TenantDB interface {
	Table(name string) *gorm.DB
}
