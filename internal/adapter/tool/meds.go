package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/tracer"
)

func medName(m domain.Medication) string { return m.Name }

// MedicationsTool lists the user's medications.
type MedicationsTool struct {
	meds   domain.MedsService
	logger *slog.Logger
}

// NewMedicationsTool creates the get_medications tool.
func NewMedicationsTool(meds domain.MedsService, logger *slog.Logger) *MedicationsTool {
	return &MedicationsTool{meds: meds, logger: logger}
}

func (t *MedicationsTool) Name() string { return "get_medications" }
func (t *MedicationsTool) Description() string {
	return "Get the user's current medications with doses and schedules. Use when the user asks about meds or pills."
}

func (t *MedicationsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

func (t *MedicationsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_medications", t.logger, params,
		func(ctx context.Context, _ trace.Span, _ struct{}) (any, error) {
			meds, err := t.meds.ListMedications(ctx)
			if err != nil {
				return nil, fmt.Errorf("could not fetch medications: %w", err)
			}
			if len(meds) == 0 {
				return map[string]any{"medications": []domain.Medication{}, "message": "No medications in system"}, nil
			}
			return map[string]any{"medications": meds, "count": len(meds)}, nil
		},
	)
}

// LogMedicationTool records a dose of one or all medications.
type LogMedicationTool struct {
	meds   domain.MedsService
	logger *slog.Logger
}

// NewLogMedicationTool creates the log_medication_taken tool.
func NewLogMedicationTool(meds domain.MedsService, logger *slog.Logger) *LogMedicationTool {
	return &LogMedicationTool{meds: meds, logger: logger}
}

func (t *LogMedicationTool) Name() string { return "log_medication_taken" }
func (t *LogMedicationTool) Description() string {
	return "Record that the user took a medication dose. Pass the medication name, or \"all\" when they took everything."
}

func (t *LogMedicationTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"medication_name": {"type": "string", "description": "Name of the medication taken, or \"all\""}
			},
			"required": ["medication_name"]
		}`),
	}
}

type logMedParams struct {
	MedicationName string `json:"medication_name"`
}

func (t *LogMedicationTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.log_medication_taken", t.logger, params,
		func(ctx context.Context, span trace.Span, p logMedParams) (any, error) {
			if err := RequireField("medication_name", p.MedicationName); err != nil {
				return nil, err
			}
			meds, err := t.meds.ListMedications(ctx)
			if err != nil {
				return nil, fmt.Errorf("could not fetch medications list: %w", err)
			}

			res := resolveByName(meds, medName, p.MedicationName)
			if len(res.Matches) == 0 {
				return nil, notFoundError("Medication", p.MedicationName, meds, medName)
			}

			logged := make([]string, 0, len(res.Matches))
			for _, m := range res.Matches {
				if err := t.meds.TakeMedication(ctx, m.ID); err != nil {
					return nil, fmt.Errorf("failed to log %s: %w", m.Name, err)
				}
				logged = append(logged, m.Name)
			}
			span.SetAttributes(tracer.IntAttr("meds.logged", len(logged)))

			out := map[string]any{"success": true}
			if len(logged) == 1 {
				out["medication"] = logged[0]
				out["message"] = "Logged dose of " + logged[0]
			} else {
				out["medications"] = logged
				out["message"] = "Logged doses of " + strings.Join(logged, ", ")
			}
			if len(res.Others) > 0 {
				out["other_matches"] = res.Others
			}
			return out, nil
		},
	)
}
