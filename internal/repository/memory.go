package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"persona-ritual/backend/internal/models"
)

// MemoryStore is an in-process Store used for local runs and tests.
// A single mutex makes each method atomic, which gives the same
// uniqueness and conditional-update guarantees as the database indexes.
type MemoryStore struct {
	mu        sync.RWMutex
	surveys   map[string]models.Survey
	responses map[string][]models.SurveyResponse
	personas  map[string]models.Persona
	sessions  map[string]models.ChatSession
	messages  map[string][]models.ChatMessage
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		surveys:   make(map[string]models.Survey),
		responses: make(map[string][]models.SurveyResponse),
		personas:  make(map[string]models.Persona),
		sessions:  make(map[string]models.ChatSession),
		messages:  make(map[string][]models.ChatMessage),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Surveys

func (m *MemoryStore) CreateSurvey(ctx context.Context, survey *models.Survey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.surveys[survey.ID]; ok {
		return ErrDuplicate
	}
	for _, s := range m.surveys {
		if s.ShareableToken == survey.ShareableToken {
			return ErrDuplicate
		}
	}
	if survey.CreatedAt.IsZero() {
		survey.CreatedAt = time.Now()
	}
	stored := *survey
	stored.ResponseCount = 0
	m.surveys[survey.ID] = stored
	return nil
}

func (m *MemoryStore) FindSurvey(ctx context.Context, id string) (*models.Survey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.surveys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) FindSurveyForOwner(ctx context.Context, id, ownerID string) (*models.Survey, error) {
	s, err := m.FindSurvey(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) FindSurveyByIDOrToken(ctx context.Context, idOrToken string) (*models.Survey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.surveys[idOrToken]; ok {
		return &s, nil
	}
	for _, s := range m.surveys {
		if s.ShareableToken == idOrToken {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListSurveysByOwner(ctx context.Context, ownerID string) ([]models.Survey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	surveys := make([]models.Survey, 0)
	for _, s := range m.surveys {
		if s.OwnerID == ownerID {
			s.ResponseCount = int64(len(m.responses[s.ID]))
			surveys = append(surveys, s)
		}
	}
	sort.SliceStable(surveys, func(i, j int) bool {
		return surveys[i].CreatedAt.After(surveys[j].CreatedAt)
	})
	return surveys, nil
}

func (m *MemoryStore) InsertResponse(ctx context.Context, response *models.SurveyResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.responses[response.SurveyID] {
		if r.FingerprintHash == response.FingerprintHash {
			return ErrDuplicate
		}
	}
	if response.CreatedAt.IsZero() {
		response.CreatedAt = time.Now()
	}
	m.responses[response.SurveyID] = append(m.responses[response.SurveyID], *response)
	return nil
}

func (m *MemoryStore) CountResponses(ctx context.Context, surveyID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.responses[surveyID])), nil
}

func (m *MemoryStore) ListResponses(ctx context.Context, surveyID string) ([]models.SurveyResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.responses[surveyID]), nil
}

func (m *MemoryStore) UpdateSurveyStatusIf(ctx context.Context, id string, from []models.SurveyStatus, to models.SurveyStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transitionLocked(id, from, to), nil
}

func (m *MemoryStore) transitionLocked(id string, from []models.SurveyStatus, to models.SurveyStatus) bool {
	s, ok := m.surveys[id]
	if !ok || !slices.Contains(from, s.Status) {
		return false
	}
	s.Status = to
	m.surveys[id] = s
	return true
}

// Personas

func (m *MemoryStore) CompleteSynthesis(ctx context.Context, persona *models.Persona, from []models.SurveyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if persona.SurveyID != nil && !m.transitionLocked(*persona.SurveyID, from, models.SurveyCompleted) {
		return ErrConflict
	}
	if persona.CreatedAt.IsZero() {
		persona.CreatedAt = time.Now()
	}
	m.personas[persona.ID] = *persona
	return nil
}

func (m *MemoryStore) FindPersonaForOwner(ctx context.Context, id, ownerID string) (*models.Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.personas[id]
	if !ok || p.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) ListPersonasByOwner(ctx context.Context, ownerID string) ([]models.Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	personas := make([]models.Persona, 0)
	for _, p := range m.personas {
		if p.OwnerID == ownerID {
			personas = append(personas, p)
		}
	}
	sort.SliceStable(personas, func(i, j int) bool {
		return personas[i].CreatedAt.After(personas[j].CreatedAt)
	})
	return personas, nil
}

func (m *MemoryStore) IncrementBondLevel(ctx context.Context, personaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.personas[personaID]
	if !ok {
		return ErrNotFound
	}
	p.BondLevel++
	m.personas[personaID] = p
	return nil
}

// Chat

func (m *MemoryStore) FindSessionByPair(ctx context.Context, ownerID, personaID string) (*models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.OwnerID == ownerID && s.PersonaID == personaID {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) InsertSession(ctx context.Context, session *models.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.OwnerID == session.OwnerID && s.PersonaID == session.PersonaID {
			return ErrDuplicate
		}
	}
	stored := *session
	stored.Persona = nil
	m.sessions[session.ID] = stored
	return nil
}

func (m *MemoryStore) FindSessionForOwner(ctx context.Context, id, ownerID string) (*models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok || s.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	p, ok := m.personas[s.PersonaID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Persona = &p
	return &s, nil
}

func (m *MemoryStore) ListSessionsByOwner(ctx context.Context, ownerID string) ([]models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]models.ChatSession, 0)
	for _, s := range m.sessions {
		if s.OwnerID != ownerID {
			continue
		}
		if p, ok := m.personas[s.PersonaID]; ok {
			s.Persona = &p
		}
		sessions = append(sessions, s)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastMessageAt.After(sessions[j].LastMessageAt)
	})
	return sessions, nil
}

func (m *MemoryStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if s.LastMessageAt.Before(at) {
		s.LastMessageAt = at
		m.sessions[id] = s
	}
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, message *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	m.messages[message.SessionID] = append(m.messages[message.SessionID], *message)
	return nil
}

func (m *MemoryStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	m.mu.RLock()
	all := slices.Clone(m.messages[sessionID])
	m.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}
