package models

import (
	"time"

	"gorm.io/datatypes"
)

// SurveyStatus is the lifecycle state of a survey.
// Transitions only move forward: COLLECTING -> READY -> COMPLETED.
type SurveyStatus string

const (
	SurveyCollecting SurveyStatus = "COLLECTING"
	SurveyReady      SurveyStatus = "READY"
	SurveyCompleted  SurveyStatus = "COMPLETED"
)

// Survey is a shareable ritual collecting anonymous impressions of its owner
type Survey struct {
	ID             string       `json:"id" gorm:"primaryKey;size:36"`
	OwnerID        string       `json:"userId" gorm:"size:64;not null;index:idx_surveys_owner_created,priority:1"`
	Title          *string      `json:"title,omitempty" gorm:"size:200"`
	Status         SurveyStatus `json:"status" gorm:"size:16;not null;index"`
	MinResponses   int          `json:"minResponses" gorm:"not null"`
	ShareableToken string       `json:"-" gorm:"size:32;not null;uniqueIndex"`
	CreatedAt      time.Time    `json:"createdAt" gorm:"index:idx_surveys_owner_created,priority:2"`
	ExpiresAt      time.Time    `json:"expiresAt"`

	// ResponseCount is filled in by list queries, it is not a column
	ResponseCount int64 `json:"responseCount" gorm:"->;-:migration"`
}

// Expired reports whether the survey has passed its expiry time
func (s *Survey) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AcceptsResponses reports whether anonymous respondents may still submit
func (s *Survey) AcceptsResponses(now time.Time) bool {
	return s.Status == SurveyCollecting && !s.Expired(now)
}

// SurveyResponse is one anonymous submission. At most one per fingerprint per survey.
type SurveyResponse struct {
	ID              string         `json:"id" gorm:"primaryKey;size:36"`
	SurveyID        string         `json:"surveyId" gorm:"size:36;not null;uniqueIndex:ux_survey_fingerprint,priority:1"`
	FingerprintHash string         `json:"-" gorm:"size:128;not null;uniqueIndex:ux_survey_fingerprint,priority:2"`
	Answers         datatypes.JSON `json:"answers"`
	CreatedAt       time.Time      `json:"createdAt"`
}
