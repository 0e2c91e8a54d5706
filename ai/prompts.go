package ai

import (
	"fmt"
	"strings"

	"persona-ritual/backend/internal/models"
)

const personaSystemPrompt = "You are a persona creation AI. Always respond with valid JSON only."

const moderationSystemPrompt = "You are a content safety classifier for a role-play chat. Always respond with valid JSON only."

// ModerationCategories are the labels the classifier may report
var ModerationCategories = []string{
	"harassment", "hate", "self-harm", "sexual", "violence", "illicit",
}

// chatRules are appended to every persona system prompt
const chatRules = `Rules:
- Stay in character at all times
- Keep responses conversational (1-3 sentences)
- Never break character or mention you're an AI
- Be engaging and show personality`

// BuildPersonaPrompt renders the user turn for persona synthesis
func BuildPersonaPrompt(req PersonaRequest) string {
	var b strings.Builder
	b.WriteString("Analyze these survey responses about a person and create a persona profile.\n\n")
	b.WriteString("Survey Responses:\n")

	for i, imp := range req.Impressions {
		fmt.Fprintf(&b, "\nRespondent %d:\n", i+1)
		for _, a := range imp.Answers {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", a.Question, a.Value)
		}
	}

	fmt.Fprintf(&b, "\nMode: %s\n", req.Mode)
	if req.Mode == models.ModeAlchemic && req.Archetype != "" {
		fmt.Fprintf(&b, "Selected Archetype: %s (the archetype field must be exactly this value)\n", req.Archetype)
	}

	b.WriteString("\nGenerate a JSON response with:\n")
	b.WriteString("1. name: A unique name for this persona (creative, memorable)\n")
	fmt.Fprintf(&b, "2. archetype: One of [%s]\n", strings.Join(models.Archetypes, ", "))
	b.WriteString("3. stats: Object with charisma, intellect, kindness, energy (0-100 each)\n")
	b.WriteString("4. systemPrompt: A detailed personality description for AI roleplay (2-3 sentences)\n")
	b.WriteString("5. greeting: A first message this persona would say (1 sentence, in character)\n")
	fmt.Fprintf(&b, "6. rarity: Based on uniqueness - %s\n", strings.Join(models.Rarities, ", "))
	b.WriteString("\nRespond ONLY with valid JSON, no markdown.")
	return b.String()
}

// BuildChatSystemPrompt renders the system instruction for an in-character reply
func BuildChatSystemPrompt(name, systemPrompt string) string {
	return fmt.Sprintf("You are %s. %s\n\n%s", name, systemPrompt, chatRules)
}

// BuildModerationPrompt renders the user turn for the safety classifier
func BuildModerationPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Classify the message below for unsafe content.\n")
	fmt.Fprintf(&b, "Possible categories: %s.\n", strings.Join(ModerationCategories, ", "))
	b.WriteString(`Respond with {"flagged": true|false, "categories": ["..."]}.`)
	b.WriteString("\n\nMessage:\n")
	b.WriteString(text)
	return b.String()
}
