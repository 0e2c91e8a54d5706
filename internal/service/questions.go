package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"persona-ritual/backend/ai"
)

// QuestionType is how a survey question is answered
type QuestionType string

const (
	QuestionText   QuestionType = "text"
	QuestionChoice QuestionType = "choice"
	QuestionScale  QuestionType = "scale"
)

// Question is one prompt shown to anonymous respondents
type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Text    string       `json:"question"`
	Options []string     `json:"options,omitempty"`
	Min     int          `json:"min,omitempty"`
	Max     int          `json:"max,omitempty"`
}

// DefaultQuestions is the fixed question set every survey uses
func DefaultQuestions() []Question {
	return []Question{
		{ID: "q1", Type: QuestionText, Text: "What is one word that describes this person?"},
		{
			ID:      "q2",
			Type:    QuestionChoice,
			Text:    "If this person were a character archetype, they would be:",
			Options: []string{"The Leader", "The Artist", "The Sage", "The Rebel", "The Caregiver"},
		},
		{ID: "q3", Type: QuestionScale, Text: "Rate their charisma (1-10)", Min: 1, Max: 10},
		{ID: "q4", Type: QuestionText, Text: "What is their most memorable quality?"},
		{ID: "q5", Type: QuestionText, Text: "How would you describe their energy?"},
	}
}

// impressionFromAnswers renders stored answers as question and answer text.
// Known question ids come first in catalogue order, unknown keys follow sorted.
func impressionFromAnswers(raw []byte) ai.Impression {
	var answers map[string]any
	if err := json.Unmarshal(raw, &answers); err != nil {
		return ai.Impression{Answers: []ai.Answer{{Question: "Survey response", Value: string(raw)}}}
	}

	imp := ai.Impression{}
	seen := make(map[string]bool, len(answers))
	for _, q := range DefaultQuestions() {
		if v, ok := answers[q.ID]; ok {
			imp.Answers = append(imp.Answers, ai.Answer{Question: q.Text, Value: answerText(v)})
			seen[q.ID] = true
		}
	}

	extra := make([]string, 0)
	for k := range answers {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		imp.Answers = append(imp.Answers, ai.Answer{Question: k, Value: answerText(answers[k])})
	}
	return imp
}

func answerText(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return fmt.Sprintf("%g", val)
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
