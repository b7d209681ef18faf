package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"kilo-brain/internal/domain"
)

func habitName(h domain.Habit) string { return h.Name }

// HabitsTool lists tracked habits.
type HabitsTool struct {
	habits domain.HabitsService
	logger *slog.Logger
}

// NewHabitsTool creates the get_habits tool.
func NewHabitsTool(habits domain.HabitsService, logger *slog.Logger) *HabitsTool {
	return &HabitsTool{habits: habits, logger: logger}
}

func (t *HabitsTool) Name() string { return "get_habits" }
func (t *HabitsTool) Description() string {
	return "Get the user's tracked habits. Use when the user asks about habits or routines."
}

func (t *HabitsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

func (t *HabitsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_habits", t.logger, params,
		func(ctx context.Context, _ trace.Span, _ struct{}) (any, error) {
			habits, err := t.habits.ListHabits(ctx)
			if err != nil {
				return nil, fmt.Errorf("could not fetch habits: %w", err)
			}
			if len(habits) == 0 {
				return map[string]any{"habits": []domain.Habit{}, "message": "No habits in system"}, nil
			}
			return map[string]any{"habits": habits, "count": len(habits)}, nil
		},
	)
}

// LogHabitTool marks a habit as done for today.
type LogHabitTool struct {
	habits domain.HabitsService
	logger *slog.Logger
}

// NewLogHabitTool creates the log_habit_completion tool.
func NewLogHabitTool(habits domain.HabitsService, logger *slog.Logger) *LogHabitTool {
	return &LogHabitTool{habits: habits, logger: logger}
}

func (t *LogHabitTool) Name() string { return "log_habit_completion" }
func (t *LogHabitTool) Description() string {
	return "Mark a habit as completed today. Pass the habit name, or \"all\"."
}

func (t *LogHabitTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"habit_name": {"type": "string", "description": "Name of the habit, or \"all\""}
			},
			"required": ["habit_name"]
		}`),
	}
}

type logHabitParams struct {
	HabitName string `json:"habit_name"`
}

func (t *LogHabitTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.log_habit_completion", t.logger, params,
		func(ctx context.Context, _ trace.Span, p logHabitParams) (any, error) {
			if err := RequireField("habit_name", p.HabitName); err != nil {
				return nil, err
			}
			habits, err := t.habits.ListHabits(ctx)
			if err != nil {
				return nil, fmt.Errorf("could not fetch habits: %w", err)
			}

			res := resolveByName(habits, habitName, p.HabitName)
			if len(res.Matches) == 0 {
				return nil, notFoundError("Habit", p.HabitName, habits, habitName)
			}

			done := make([]string, 0, len(res.Matches))
			for _, h := range res.Matches {
				if err := t.habits.CompleteHabit(ctx, h.ID); err != nil {
					return nil, fmt.Errorf("failed to log %s: %w", h.Name, err)
				}
				done = append(done, h.Name)
			}

			out := map[string]any{
				"success": true,
				"habits":  done,
				"message": "Logged " + strings.Join(done, ", ") + " for today",
			}
			if len(res.Others) > 0 {
				out["other_matches"] = res.Others
			}
			return out, nil
		},
	)
}
