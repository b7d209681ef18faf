package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"kilo-brain/internal/domain"
)

const (
	defaultReminderLimit = 10
	maxReminderLimit     = 100
)

// UpcomingRemindersTool lists pending reminders.
type UpcomingRemindersTool struct {
	reminders domain.ReminderService
	logger    *slog.Logger
}

// NewUpcomingRemindersTool creates the get_upcoming_reminders tool.
func NewUpcomingRemindersTool(reminders domain.ReminderService, logger *slog.Logger) *UpcomingRemindersTool {
	return &UpcomingRemindersTool{reminders: reminders, logger: logger}
}

func (t *UpcomingRemindersTool) Name() string { return "get_upcoming_reminders" }
func (t *UpcomingRemindersTool) Description() string {
	return "Get the user's upcoming reminders: text, when each is due and its status."
}

func (t *UpcomingRemindersTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {"type": "integer", "minimum": 1, "maximum": 100, "description": "Maximum reminders to return (default 10)"}
			}
		}`),
	}
}

type remindersParams struct {
	Limit int `json:"limit,omitempty"`
}

func (t *UpcomingRemindersTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_upcoming_reminders", t.logger, params,
		func(ctx context.Context, _ trace.Span, p remindersParams) (any, error) {
			if p.Limit == 0 {
				p.Limit = defaultReminderLimit
			}
			if err := ValidateRange("limit", p.Limit, 1, maxReminderLimit); err != nil {
				return nil, err
			}
			rems, err := t.reminders.PendingReminders(ctx, p.Limit)
			if err != nil {
				return nil, fmt.Errorf("could not fetch reminders: %w", err)
			}
			if len(rems) == 0 {
				return map[string]any{"reminders": []domain.Reminder{}, "message": "No pending reminders"}, nil
			}
			return map[string]any{"reminders": rems, "count": len(rems)}, nil
		},
	)
}

// CreateReminderTool schedules a new reminder.
type CreateReminderTool struct {
	reminders domain.ReminderService
	logger    *slog.Logger
}

// NewCreateReminderTool creates the create_reminder tool.
func NewCreateReminderTool(reminders domain.ReminderService, logger *slog.Logger) *CreateReminderTool {
	return &CreateReminderTool{reminders: reminders, logger: logger}
}

func (t *CreateReminderTool) Name() string { return "create_reminder" }
func (t *CreateReminderTool) Description() string {
	return "Create a reminder for the user. 'when' is an ISO-8601 timestamp."
}

func (t *CreateReminderTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "What to remind the user about"},
				"when": {"type": "string", "description": "When to fire, ISO-8601"},
				"recurrence": {"type": "string", "enum": ["daily", "weekly", "monthly"], "description": "Optional repeat interval"}
			},
			"required": ["text", "when"]
		}`),
	}
}

type createReminderParams struct {
	Text       string `json:"text"`
	When       string `json:"when"`
	Recurrence string `json:"recurrence,omitempty"`
}

func (t *CreateReminderTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.create_reminder", t.logger, params,
		func(ctx context.Context, _ trace.Span, p createReminderParams) (any, error) {
			if err := ValidateAll(
				RequireFields("text", p.Text, "when", p.When),
				ValidateMaxLength("text", p.Text, 500),
				ValidateEnum("recurrence", p.Recurrence, "daily", "weekly", "monthly"),
			); err != nil {
				return nil, err
			}
			created, err := t.reminders.CreateReminder(ctx, domain.Reminder{
				Text:       p.Text,
				When:       p.When,
				Recurrence: p.Recurrence,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create reminder: %w", err)
			}
			if len(created) == 0 {
				created = emptyObject
			}
			return map[string]any{"success": true, "reminder": created}, nil
		},
	)
}
