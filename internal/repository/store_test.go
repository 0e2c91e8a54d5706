package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"persona-ritual/backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return NewGormStore(db)
}

func newMemoryStore(t *testing.T) Store {
	return NewMemoryStore()
}

var backends = map[string]func(t *testing.T) Store{
	"gorm":   newSQLiteStore,
	"memory": newMemoryStore,
}

func seedSurvey(t *testing.T, store Store, owner string, created time.Time) *models.Survey {
	t.Helper()
	survey := &models.Survey{
		ID:             uuid.NewString(),
		OwnerID:        owner,
		Status:         models.SurveyCollecting,
		MinResponses:   2,
		ShareableToken: uuid.NewString()[:10],
		CreatedAt:      created,
		ExpiresAt:      created.Add(time.Hour),
	}
	require.NoError(t, store.CreateSurvey(context.Background(), survey))
	return survey
}

func newPersona(owner string, surveyID *string) *models.Persona {
	return &models.Persona{
		ID:           uuid.NewString(),
		OwnerID:      owner,
		SurveyID:     surveyID,
		Name:         "Vesper",
		Archetype:    "SAGE",
		Stats:        models.PersonaStats{Charisma: 60, Intellect: 70, Kindness: 50, Energy: 40},
		SystemPrompt: "You are calm.",
		Greeting:     "Hello.",
		Rarity:       "RARE",
	}
}

func seedPersona(t *testing.T, store Store, owner string, surveyID *string) *models.Persona {
	t.Helper()
	persona := newPersona(owner, surveyID)
	require.NoError(t, store.CompleteSynthesis(context.Background(), persona, nil))
	return persona
}

func TestSurveyLookups(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

			older := seedSurvey(t, store, "owner-1", base)
			newer := seedSurvey(t, store, "owner-1", base.Add(time.Minute))
			seedSurvey(t, store, "owner-2", base)

			byToken, err := store.FindSurveyByIDOrToken(ctx, older.ShareableToken)
			require.NoError(t, err)
			assert.Equal(t, older.ID, byToken.ID)

			byID, err := store.FindSurveyByIDOrToken(ctx, newer.ID)
			require.NoError(t, err)
			assert.Equal(t, newer.ID, byID.ID)

			_, err = store.FindSurveyForOwner(ctx, older.ID, "owner-2")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = store.FindSurveyByIDOrToken(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.InsertResponse(ctx, &models.SurveyResponse{
				ID: uuid.NewString(), SurveyID: older.ID, FingerprintHash: "fp-a",
			}))

			list, err := store.ListSurveysByOwner(ctx, "owner-1")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, newer.ID, list[0].ID)
			assert.Equal(t, int64(0), list[0].ResponseCount)
			assert.Equal(t, older.ID, list[1].ID)
			assert.Equal(t, int64(1), list[1].ResponseCount)
		})
	}
}

func TestInsertResponseDeduplicatesConcurrently(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			survey := seedSurvey(t, store, "owner-1", time.Now().UTC())

			results := make([]error, 8)
			var g errgroup.Group
			for i := range results {
				g.Go(func() error {
					results[i] = store.InsertResponse(ctx, &models.SurveyResponse{
						ID:              uuid.NewString(),
						SurveyID:        survey.ID,
						FingerprintHash: "same-device",
					})
					return nil
				})
			}
			require.NoError(t, g.Wait())

			accepted := 0
			for _, err := range results {
				if err == nil {
					accepted++
					continue
				}
				assert.True(t, errors.Is(err, ErrDuplicate), "unexpected error: %v", err)
			}
			assert.Equal(t, 1, accepted)

			count, err := store.CountResponses(ctx, survey.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
		})
	}
}

func TestUpdateSurveyStatusIfTransitionsOnce(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			survey := seedSurvey(t, store, "owner-1", time.Now().UTC())

			transitions := make([]bool, 6)
			var g errgroup.Group
			for i := range transitions {
				g.Go(func() error {
					ok, err := store.UpdateSurveyStatusIf(ctx, survey.ID,
						[]models.SurveyStatus{models.SurveyCollecting}, models.SurveyReady)
					transitions[i] = ok
					return err
				})
			}
			require.NoError(t, g.Wait())

			won := 0
			for _, ok := range transitions {
				if ok {
					won++
				}
			}
			assert.Equal(t, 1, won)

			stored, err := store.FindSurvey(ctx, survey.ID)
			require.NoError(t, err)
			assert.Equal(t, models.SurveyReady, stored.Status)
		})
	}
}

func TestCompleteSynthesisRejectsSecondAttempt(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			survey := seedSurvey(t, store, "owner-1", time.Now().UTC())
			from := []models.SurveyStatus{models.SurveyCollecting, models.SurveyReady}

			first := newPersona("owner-1", &survey.ID)
			require.NoError(t, store.CompleteSynthesis(ctx, first, from))

			second := newPersona("owner-1", &survey.ID)
			err := store.CompleteSynthesis(ctx, second, from)
			assert.ErrorIs(t, err, ErrConflict)

			_, err = store.FindPersonaForOwner(ctx, second.ID, "owner-1")
			assert.ErrorIs(t, err, ErrNotFound)

			stored, err := store.FindSurvey(ctx, survey.ID)
			require.NoError(t, err)
			assert.Equal(t, models.SurveyCompleted, stored.Status)
		})
	}
}

func TestBondLevelIncrements(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			persona := seedPersona(t, store, "owner-1", nil)

			require.NoError(t, store.IncrementBondLevel(ctx, persona.ID))
			require.NoError(t, store.IncrementBondLevel(ctx, persona.ID))

			stored, err := store.FindPersonaForOwner(ctx, persona.ID, "owner-1")
			require.NoError(t, err)
			assert.Equal(t, 2, stored.BondLevel)

			assert.ErrorIs(t, store.IncrementBondLevel(ctx, "missing"), ErrNotFound)
		})
	}
}

func TestSessionsAndMessages(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			persona := seedPersona(t, store, "owner-1", nil)
			start := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

			session := &models.ChatSession{
				ID: uuid.NewString(), OwnerID: "owner-1", PersonaID: persona.ID,
				StartedAt: start, LastMessageAt: start,
			}
			require.NoError(t, store.InsertSession(ctx, session))

			dup := *session
			dup.ID = uuid.NewString()
			assert.ErrorIs(t, store.InsertSession(ctx, &dup), ErrDuplicate)

			byPair, err := store.FindSessionByPair(ctx, "owner-1", persona.ID)
			require.NoError(t, err)
			assert.Equal(t, session.ID, byPair.ID)

			loaded, err := store.FindSessionForOwner(ctx, session.ID, "owner-1")
			require.NoError(t, err)
			require.NotNil(t, loaded.Persona)
			assert.Equal(t, "Vesper", loaded.Persona.Name)

			_, err = store.FindSessionForOwner(ctx, session.ID, "owner-2")
			assert.ErrorIs(t, err, ErrNotFound)

			for i := 0; i < 5; i++ {
				sender := models.SenderUser
				if i%2 == 1 {
					sender = models.SenderAI
				}
				require.NoError(t, store.AppendMessage(ctx, &models.ChatMessage{
					ID:        uuid.NewString(),
					SessionID: session.ID,
					Sender:    sender,
					Content:   fmt.Sprintf("m%d", i),
					CreatedAt: start.Add(time.Duration(i+1) * time.Second),
				}))
			}

			recent, err := store.RecentMessages(ctx, session.ID, 3)
			require.NoError(t, err)
			require.Len(t, recent, 3)
			assert.Equal(t, "m2", recent[0].Content)
			assert.Equal(t, "m4", recent[2].Content)

			later := start.Add(time.Minute)
			require.NoError(t, store.TouchSession(ctx, session.ID, later))
			require.NoError(t, store.TouchSession(ctx, session.ID, start))

			sessions, err := store.ListSessionsByOwner(ctx, "owner-1")
			require.NoError(t, err)
			require.Len(t, sessions, 1)
			assert.True(t, sessions[0].LastMessageAt.Equal(later))
			require.NotNil(t, sessions[0].Persona)
		})
	}
}
