package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"persona-ritual/backend/internal/models"
	"persona-ritual/backend/internal/repository"
	"persona-ritual/backend/pkg/cache"
	apperrors "persona-ritual/backend/pkg/errors"
	"persona-ritual/backend/pkg/logger"
	"persona-ritual/backend/shared/observability"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/blake2b"
	"gorm.io/datatypes"
)

const (
	shareableTokenLength = 10
	maxMinResponses      = 100
	maxTitleLength       = 200
	tokenAttempts        = 3
)

// SurveyConfig tunes the survey engine
type SurveyConfig struct {
	DefaultMinResponses  int
	TTL                  time.Duration
	FrontendURL          string
	FingerprintMinLength int
}

// CreateSurveyInput is the owner's request to open a survey
type CreateSurveyInput struct {
	Title        *string `json:"title"`
	MinResponses *int    `json:"minResponses"`
}

// SubmitResponseInput is one anonymous submission
type SubmitResponseInput struct {
	Answers         json.RawMessage `json:"answers"`
	FingerprintHash string          `json:"fingerprintHash"`
}

// SurveyEngine owns the survey lifecycle from creation to the READY threshold
type SurveyEngine struct {
	store   repository.SurveyRepository
	cfg     SurveyConfig
	tokens  *cache.Cache[string]
	metrics *observability.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewSurveyEngine creates a survey engine. tokens and metrics may be nil.
func NewSurveyEngine(store repository.SurveyRepository, cfg SurveyConfig, tokens *cache.Cache[string], metrics *observability.Metrics, log *logger.Logger) *SurveyEngine {
	if cfg.DefaultMinResponses <= 0 {
		cfg.DefaultMinResponses = 3
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &SurveyEngine{
		store:   store,
		cfg:     cfg,
		tokens:  tokens,
		metrics: metrics,
		log:     log.With("component", "survey"),
		now:     time.Now,
	}
}

// CreateSurvey opens a new COLLECTING survey with a fresh shareable token
func (e *SurveyEngine) CreateSurvey(ctx context.Context, ownerID string, in CreateSurveyInput) (*SurveyView, error) {
	minResponses := e.cfg.DefaultMinResponses
	if in.MinResponses != nil {
		if *in.MinResponses < 1 || *in.MinResponses > maxMinResponses {
			return nil, apperrors.Validation(fmt.Sprintf("minResponses must be between 1 and %d", maxMinResponses))
		}
		minResponses = *in.MinResponses
	}

	var title *string
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if len(t) > maxTitleLength {
			return nil, apperrors.Validation(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
		}
		if t != "" {
			title = &t
		}
	}

	now := e.now().UTC()
	survey := &models.Survey{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Title:        title,
		Status:       models.SurveyCollecting,
		MinResponses: minResponses,
		CreatedAt:    now,
		ExpiresAt:    now.Add(e.ttl()),
	}

	var err error
	for attempt := 0; attempt < tokenAttempts; attempt++ {
		survey.ShareableToken, err = gonanoid.New(shareableTokenLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate shareable token: %w", err)
		}
		err = e.store.CreateSurvey(ctx, survey)
		if !errors.Is(err, repository.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create survey: %w", err)
	}

	e.log.Info("Survey created", "survey_id", survey.ID, "user_id", ownerID, "min_responses", minResponses)
	view := e.view(survey)
	return &view, nil
}

// ListMySurveys returns the owner's surveys, newest first, with response counts
func (e *SurveyEngine) ListMySurveys(ctx context.Context, ownerID string) ([]SurveyView, error) {
	surveys, err := e.store.ListSurveysByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list surveys: %w", err)
	}

	views := make([]SurveyView, 0, len(surveys))
	for i := range surveys {
		views = append(views, e.view(&surveys[i]))
	}
	return views, nil
}

// GetPublicSurvey resolves a survey by id or shareable token for anonymous respondents.
// Only surveys still collecting responses are visible.
func (e *SurveyEngine) GetPublicSurvey(ctx context.Context, idOrToken string) (*PublicSurveyView, error) {
	survey, err := e.resolve(ctx, idOrToken)
	if err != nil {
		return nil, err
	}
	if !survey.AcceptsResponses(e.now()) {
		return nil, notAccepting()
	}

	return &PublicSurveyView{
		ID:        survey.ID,
		Title:     survey.Title,
		ExpiresAt: survey.ExpiresAt,
		Questions: DefaultQuestions(),
	}, nil
}

// SubmitResponse stores one anonymous response and moves the survey to READY
// once the threshold is reached.
func (e *SurveyEngine) SubmitResponse(ctx context.Context, surveyID string, in SubmitResponseInput) error {
	survey, err := e.store.FindSurvey(ctx, surveyID)
	if err != nil {
		return notFound(err, "Survey")
	}
	if !survey.AcceptsResponses(e.now()) {
		return apperrors.InvalidState("This survey is no longer accepting responses")
	}
	if err := e.validateSubmission(in); err != nil {
		return err
	}

	response := &models.SurveyResponse{
		ID:              uuid.NewString(),
		SurveyID:        survey.ID,
		FingerprintHash: FingerprintDigest(survey.ID, in.FingerprintHash),
		Answers:         datatypes.JSON(in.Answers),
		CreatedAt:       e.now().UTC(),
	}
	if err := e.store.InsertResponse(ctx, response); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return apperrors.DuplicateSubmission()
		}
		return fmt.Errorf("failed to store response: %w", err)
	}
	e.metrics.SurveyResponseAccepted(ctx)

	count, err := e.store.CountResponses(ctx, survey.ID)
	if err != nil {
		return fmt.Errorf("failed to count responses: %w", err)
	}
	if count < int64(survey.MinResponses) {
		return nil
	}

	moved, err := e.store.UpdateSurveyStatusIf(ctx, survey.ID,
		[]models.SurveyStatus{models.SurveyCollecting}, models.SurveyReady)
	if err != nil {
		return fmt.Errorf("failed to update survey status: %w", err)
	}
	if moved {
		e.metrics.SurveyReady(ctx)
		e.log.Info("Survey reached threshold", "survey_id", survey.ID, "responses", count)
	}
	return nil
}

// GetSurveyStatus reports the owner's progress towards the threshold
func (e *SurveyEngine) GetSurveyStatus(ctx context.Context, surveyID, ownerID string) (*SurveyStatusView, error) {
	survey, err := e.store.FindSurveyForOwner(ctx, surveyID, ownerID)
	if err != nil {
		return nil, notFound(err, "Survey")
	}

	count, err := e.store.CountResponses(ctx, survey.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count responses: %w", err)
	}

	return &SurveyStatusView{
		ID:               survey.ID,
		Status:           survey.Status,
		ResponsesCount:   count,
		CanCreatePersona: count >= int64(survey.MinResponses),
		Threshold:        survey.MinResponses,
	}, nil
}

// FingerprintDigest scopes a client fingerprint to one survey before it is stored.
// It only deters repeat submissions from the same client and is not an identity.
func FingerprintDigest(surveyID, fingerprint string) string {
	sum := blake2b.Sum256([]byte(surveyID + ":" + strings.TrimSpace(fingerprint)))
	return hex.EncodeToString(sum[:])
}

func (e *SurveyEngine) validateSubmission(in SubmitResponseInput) error {
	fp := strings.TrimSpace(in.FingerprintHash)
	if fp == "" {
		return apperrors.Validation("fingerprintHash is required")
	}
	if len(fp) < e.cfg.FingerprintMinLength {
		return apperrors.Validation(fmt.Sprintf("fingerprintHash must be at least %d characters", e.cfg.FingerprintMinLength))
	}

	var answers map[string]any
	if err := json.Unmarshal(in.Answers, &answers); err != nil || len(answers) == 0 {
		return apperrors.Validation("answers must be a non-empty object")
	}
	return nil
}

// resolve looks a survey up by id or token, remembering token resolutions
func (e *SurveyEngine) resolve(ctx context.Context, idOrToken string) (*models.Survey, error) {
	if e.tokens != nil {
		if id, ok := e.tokens.Get(idOrToken); ok {
			survey, err := e.store.FindSurvey(ctx, id)
			if err == nil {
				return survey, nil
			}
			e.tokens.Delete(idOrToken)
		}
	}

	survey, err := e.store.FindSurveyByIDOrToken(ctx, idOrToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notAccepting()
		}
		return nil, fmt.Errorf("failed to load survey: %w", err)
	}
	if e.tokens != nil {
		e.tokens.Set(idOrToken, survey.ID)
	}
	return survey, nil
}

func (e *SurveyEngine) view(s *models.Survey) SurveyView {
	return SurveyView{
		ID:            s.ID,
		UserID:        s.OwnerID,
		Status:        s.Status,
		Title:         s.Title,
		ShareableLink: e.cfg.FrontendURL + "/ritual/" + s.ShareableToken,
		MinResponses:  s.MinResponses,
		ResponseCount: s.ResponseCount,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.ExpiresAt,
	}
}

func (e *SurveyEngine) ttl() time.Duration {
	if e.cfg.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return e.cfg.TTL
}

func notAccepting() *apperrors.AppError {
	return apperrors.NewNotFoundError(apperrors.CodeNotFound, "Survey not found or no longer accepting responses")
}

// notFound maps repository misses onto the NotFound taxonomy and wraps anything else
func notFound(err error, entity string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound(entity)
	}
	return fmt.Errorf("failed to load %s: %w", strings.ToLower(entity), err)
}
