package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"persona-ritual/backend/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const uniqueViolation = "23505"

// GormStore implements Store on top of gorm
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new gorm-backed store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the schema for every model
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DB exposes the underlying connection for health checks
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Surveys

func (s *GormStore) CreateSurvey(ctx context.Context, survey *models.Survey) error {
	return s.db.WithContext(ctx).Create(survey).Error
}

func (s *GormStore) FindSurvey(ctx context.Context, id string) (*models.Survey, error) {
	var survey models.Survey
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&survey).Error
	if err != nil {
		return nil, translate(err)
	}
	return &survey, nil
}

func (s *GormStore) FindSurveyForOwner(ctx context.Context, id, ownerID string) (*models.Survey, error) {
	var survey models.Survey
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&survey).Error
	if err != nil {
		return nil, translate(err)
	}
	return &survey, nil
}

func (s *GormStore) FindSurveyByIDOrToken(ctx context.Context, idOrToken string) (*models.Survey, error) {
	var survey models.Survey
	err := s.db.WithContext(ctx).
		Where("id = ? OR shareable_token = ?", idOrToken, idOrToken).
		First(&survey).Error
	if err != nil {
		return nil, translate(err)
	}
	return &survey, nil
}

func (s *GormStore) ListSurveysByOwner(ctx context.Context, ownerID string) ([]models.Survey, error) {
	var surveys []models.Survey
	err := s.db.WithContext(ctx).
		Model(&models.Survey{}).
		Select("surveys.*, (SELECT COUNT(*) FROM survey_responses WHERE survey_responses.survey_id = surveys.id) AS response_count").
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&surveys).Error
	return surveys, err
}

func (s *GormStore) InsertResponse(ctx context.Context, response *models.SurveyResponse) error {
	return translate(s.db.WithContext(ctx).Create(response).Error)
}

func (s *GormStore) CountResponses(ctx context.Context, surveyID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.SurveyResponse{}).
		Where("survey_id = ?", surveyID).
		Count(&count).Error
	return count, err
}

func (s *GormStore) ListResponses(ctx context.Context, surveyID string) ([]models.SurveyResponse, error) {
	var responses []models.SurveyResponse
	err := s.db.WithContext(ctx).
		Where("survey_id = ?", surveyID).
		Order("created_at ASC").
		Find(&responses).Error
	return responses, err
}

func (s *GormStore) UpdateSurveyStatusIf(ctx context.Context, id string, from []models.SurveyStatus, to models.SurveyStatus) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Survey{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Personas

func (s *GormStore) CompleteSynthesis(ctx context.Context, persona *models.Persona, from []models.SurveyStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if persona.SurveyID != nil {
			result := tx.Model(&models.Survey{}).
				Where("id = ? AND status IN ?", *persona.SurveyID, from).
				Update("status", models.SurveyCompleted)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrConflict
			}
		}
		return tx.Omit(clause.Associations).Create(persona).Error
	})
}

func (s *GormStore) FindPersonaForOwner(ctx context.Context, id, ownerID string) (*models.Persona, error) {
	var persona models.Persona
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&persona).Error
	if err != nil {
		return nil, translate(err)
	}
	return &persona, nil
}

func (s *GormStore) ListPersonasByOwner(ctx context.Context, ownerID string) ([]models.Persona, error) {
	var personas []models.Persona
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&personas).Error
	return personas, err
}

func (s *GormStore) IncrementBondLevel(ctx context.Context, personaID string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Persona{}).
		Where("id = ?", personaID).
		Update("bond_level", gorm.Expr("bond_level + ?", 1))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Chat

func (s *GormStore) FindSessionByPair(ctx context.Context, ownerID, personaID string) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND persona_id = ?", ownerID, personaID).
		Order("last_message_at DESC").
		First(&session).Error
	if err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

func (s *GormStore) InsertSession(ctx context.Context, session *models.ChatSession) error {
	return translate(s.db.WithContext(ctx).Omit(clause.Associations).Create(session).Error)
}

func (s *GormStore) FindSessionForOwner(ctx context.Context, id, ownerID string) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.WithContext(ctx).
		Preload("Persona").
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&session).Error
	if err != nil {
		return nil, translate(err)
	}
	if session.Persona == nil {
		return nil, ErrNotFound
	}
	return &session, nil
}

func (s *GormStore) ListSessionsByOwner(ctx context.Context, ownerID string) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := s.db.WithContext(ctx).
		Preload("Persona").
		Where("owner_id = ?", ownerID).
		Order("last_message_at DESC").
		Find(&sessions).Error
	return sessions, err
}

func (s *GormStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.ChatSession{}).
		Where("id = ? AND last_message_at < ?", id, at).
		Update("last_message_at", at).Error
}

func (s *GormStore) AppendMessage(ctx context.Context, message *models.ChatMessage) error {
	return s.db.WithContext(ctx).Create(message).Error
}

func (s *GormStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	query := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// translate maps driver errors onto the repository sentinels
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
