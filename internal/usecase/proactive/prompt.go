package proactive

import (
	"fmt"
	"strings"
	"time"

	"kilo-brain/internal/domain"
)

// DefaultSkipKeywords mark messages that are commands or diagnostics rather
// than conversation.
var DefaultSkipKeywords = []string{"/remember", "/recall", "/forget", "/help", "test", "debug"}

const maxHabitNames = 3

// TimeOfDay buckets t by hour: 5-11 morning, 12-16 afternoon, 17-20 evening,
// otherwise night.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return domain.TimeMorning
	case h >= 12 && h < 17:
		return domain.TimeAfternoon
	case h >= 17 && h < 21:
		return domain.TimeEvening
	default:
		return domain.TimeNight
	}
}

// ShouldBeProactive reports whether message deserves a context check. It is
// false when the lowercased message contains any skip keyword. A nil
// keyword list uses DefaultSkipKeywords.
func ShouldBeProactive(message string, skipKeywords []string) bool {
	if skipKeywords == nil {
		skipKeywords = DefaultSkipKeywords
	}
	lower := strings.ToLower(message)
	for _, kw := range skipKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}

// BuildPrompt renders pc as the context block prepended to the user message.
// The output depends only on pc.
func BuildPrompt(pc domain.ProactiveContext) string {
	lines := []string{
		"CONTEXTUAL AWARENESS (Check these items and mention if relevant):",
		fmt.Sprintf("Current time: %s (%s)", pc.Timestamp.Format("15:04"), pc.TimeOfDay),
	}

	if doses := pc.Medications.Pending; len(doses) > 0 {
		parts := make([]string, len(doses))
		for i, d := range doses {
			if d.Dosage != "" {
				parts[i] = fmt.Sprintf("%s (%s)", d.Name, d.Dosage)
			} else {
				parts[i] = d.Name
			}
		}
		lines = append(lines, fmt.Sprintf("- PENDING MEDICATIONS: User should take %s. Ask if they've taken their meds.",
			strings.Join(parts, ", ")))
	}

	if h := pc.Habits; len(h.NotLogged) > 0 {
		lines = append(lines, fmt.Sprintf("- HABITS NOT LOGGED: User has %d/%d habits not logged today (%s). Remind them to log habits.",
			len(h.NotLogged), h.Total, strings.Join(h.NotLogged[:min(len(h.NotLogged), maxHabitNames)], ", ")))
	}

	if r := pc.Reminders; r.Count > 0 {
		lines = append(lines, fmt.Sprintf("- PENDING REMINDERS (%d): %s", r.Count, strings.Join(r.Texts, ", ")))
	}

	if msgs := pc.Security.Messages; len(msgs) > 0 {
		lines = append(lines, "- SECURITY ALERTS: "+strings.Join(msgs, ", "))
	}

	if msgs := pc.Financial.Messages; len(msgs) > 0 {
		lines = append(lines, "- FINANCIAL ALERTS: "+strings.Join(msgs, ", "))
	}

	if down := pc.SystemHealth.DownServices; len(down) > 0 {
		lines = append(lines, "- SYSTEM ISSUES: Services down: "+strings.Join(down, ", "))
	}

	if !pc.HasFindings() {
		lines = append(lines, "- All systems normal, no pending tasks.")
	}

	lines = append(lines, "\nRESPOND NATURALLY: Mention relevant items conversationally, don't just list them.")
	return strings.Join(lines, "\n")
}

// Augment joins a context block and the user's message into the prompt
// sent to the model.
func Augment(contextBlock, message string) string {
	return contextBlock + "\n\n---\nUSER MESSAGE: " + message
}
