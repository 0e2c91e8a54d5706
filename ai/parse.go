package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"persona-ritual/backend/internal/models"
)

// fallbackArchetype is used when a FATED answer names an unknown archetype
const fallbackArchetype = "MYSTIC"

type personaPayload struct {
	Name      string `json:"name"`
	Archetype string `json:"archetype"`
	Stats     struct {
		Charisma  float64 `json:"charisma"`
		Intellect float64 `json:"intellect"`
		Kindness  float64 `json:"kindness"`
		Energy    float64 `json:"energy"`
	} `json:"stats"`
	SystemPrompt string `json:"systemPrompt"`
	Greeting     string `json:"greeting"`
	Rarity       string `json:"rarity"`
}

type moderationPayload struct {
	Flagged    bool     `json:"flagged"`
	Categories []string `json:"categories"`
}

// extractJSON returns the outermost object in content, tolerating code fences and chatter
func extractJSON(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("%w: missing json object", ErrMalformedOutput)
	}
	return trimmed[start : end+1], nil
}

// ParsePersona decodes and normalizes a generated persona.
// Stats are clamped, rarity falls back to COMMON and ALCHEMIC requests keep their archetype.
func ParsePersona(content string, req PersonaRequest) (*PersonaDescriptor, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}

	var p personaPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	name := strings.TrimSpace(p.Name)
	systemPrompt := strings.TrimSpace(p.SystemPrompt)
	if name == "" || systemPrompt == "" {
		return nil, fmt.Errorf("%w: name and systemPrompt are required", ErrMalformedOutput)
	}

	stats := models.PersonaStats{
		Charisma:  roundStat(p.Stats.Charisma),
		Intellect: roundStat(p.Stats.Intellect),
		Kindness:  roundStat(p.Stats.Kindness),
		Energy:    roundStat(p.Stats.Energy),
	}

	return &PersonaDescriptor{
		Name:         name,
		Archetype:    NormalizeArchetype(p.Archetype, req),
		Stats:        stats.Clamp(),
		SystemPrompt: systemPrompt,
		Greeting:     strings.TrimSpace(p.Greeting),
		Rarity:       NormalizeRarity(p.Rarity),
	}, nil
}

// NormalizeArchetype maps a generated archetype onto the catalogue
func NormalizeArchetype(archetype string, req PersonaRequest) string {
	if req.Mode == models.ModeAlchemic && req.Archetype != "" {
		return strings.ToUpper(strings.TrimSpace(req.Archetype))
	}
	a := strings.ToUpper(strings.TrimSpace(archetype))
	if slices.Contains(models.Archetypes, a) {
		return a
	}
	return fallbackArchetype
}

// NormalizeRarity maps a generated rarity onto the catalogue, defaulting to COMMON
func NormalizeRarity(rarity string) string {
	r := strings.ToUpper(strings.TrimSpace(rarity))
	if slices.Contains(models.Rarities, r) {
		return r
	}
	return models.Rarities[0]
}

// ParseModeration decodes a classifier verdict
func ParseModeration(content string) (ModerationResult, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return ModerationResult{}, err
	}

	var p moderationPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return ModerationResult{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if !p.Flagged {
		return ModerationResult{Safe: true}, nil
	}

	categories := make([]string, 0, len(p.Categories))
	for _, c := range p.Categories {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}
	if len(categories) == 0 {
		categories = append(categories, "unspecified")
	}
	return ModerationResult{Safe: false, Reason: "Flagged: " + strings.Join(categories, ", ")}, nil
}

func roundStat(v float64) int {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(math.Round(v))
}
