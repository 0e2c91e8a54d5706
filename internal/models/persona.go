package models

import "time"

// SynthesisMode selects how the archetype of a new persona is chosen
type SynthesisMode string

const (
	// ModeFated lets the generator pick the archetype
	ModeFated SynthesisMode = "FATED"
	// ModeAlchemic constrains the archetype to the one chosen by the owner
	ModeAlchemic SynthesisMode = "ALCHEMIC"
)

// Archetypes known to the persona generator
var Archetypes = []string{
	"PROTECTOR", "SAGE", "REBEL", "ARTIST", "CAREGIVER", "MYSTIC", "LEADER", "TRICKSTER",
}

// Rarities ordered from most to least common
var Rarities = []string{"COMMON", "RARE", "EPIC", "LEGENDARY"}

// PersonaStats holds the four bounded stats, each in [0, 100]
type PersonaStats struct {
	Charisma  int `json:"charisma"`
	Intellect int `json:"intellect"`
	Kindness  int `json:"kindness"`
	Energy    int `json:"energy"`
}

// Clamp bounds every stat to [0, 100]
func (s PersonaStats) Clamp() PersonaStats {
	return PersonaStats{
		Charisma:  clampStat(s.Charisma),
		Intellect: clampStat(s.Intellect),
		Kindness:  clampStat(s.Kindness),
		Energy:    clampStat(s.Energy),
	}
}

func clampStat(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Persona is the character synthesized from a survey
type Persona struct {
	ID           string       `json:"id" gorm:"primaryKey;size:36"`
	OwnerID      string       `json:"userId" gorm:"size:64;not null;index:idx_personas_owner_created,priority:1"`
	SurveyID     *string      `json:"surveyId,omitempty" gorm:"size:36;index"`
	Name         string       `json:"name" gorm:"size:120;not null"`
	Archetype    string       `json:"archetype" gorm:"size:32;not null"`
	Stats        PersonaStats `json:"stats" gorm:"embedded;embeddedPrefix:stat_"`
	SystemPrompt string       `json:"systemPrompt" gorm:"type:text;not null"`
	Greeting     string       `json:"greeting" gorm:"type:text"`
	Rarity       string       `json:"rarity" gorm:"size:16;not null"`
	BondLevel    int          `json:"bondLevel" gorm:"not null;default:0"`
	CreatedAt    time.Time    `json:"createdAt" gorm:"index:idx_personas_owner_created,priority:2"`
}
