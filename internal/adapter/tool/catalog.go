package tool

import (
	"log/slog"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/config"
)

// Collaborators bundles the service ports the catalog tools call.
type Collaborators struct {
	Meds      domain.MedsService
	Habits    domain.HabitsService
	Finance   domain.FinanceService
	Reminders domain.ReminderService
	Library   domain.LibraryService
}

// RegisterCatalog registers the built-in tools for every non-nil collaborator
// plus web search when a backend is configured.
func RegisterCatalog(reg *Registry, c Collaborators, cfg config.ToolsConfig, logger *slog.Logger) {
	if c.Finance != nil {
		reg.Register(NewSpendingSummaryTool(c.Finance, logger))
		reg.Register(NewBudgetStatusTool(c.Finance, logger))
		reg.Register(NewCreateBudgetTool(c.Finance, logger))
	}
	if c.Meds != nil {
		reg.Register(NewMedicationsTool(c.Meds, logger))
		reg.Register(NewLogMedicationTool(c.Meds, logger))
	}
	if c.Habits != nil {
		reg.Register(NewHabitsTool(c.Habits, logger))
		reg.Register(NewLogHabitTool(c.Habits, logger))
	}
	if c.Reminders != nil {
		reg.Register(NewUpcomingRemindersTool(c.Reminders, logger))
		reg.Register(NewCreateReminderTool(c.Reminders, logger))
	}
	if c.Library != nil {
		reg.Register(NewSearchLibraryTool(c.Library, logger))
		reg.Register(NewAddLibraryEntryTool(c.Library, logger))
	}

	if backend := NewSearchBackend(cfg, logger); backend != nil {
		reg.Register(NewWebSearchTool(backend, 0, logger))
	}
}

// NewSearchBackend returns the configured web search backend, or nil when
// web search is disabled.
func NewSearchBackend(cfg config.ToolsConfig, logger *slog.Logger) SearchBackend {
	switch cfg.SearchBackend {
	case "brave":
		return NewBraveBackend(cfg.BraveURL, cfg.BraveAPIKey, logger)
	case "searxng":
		return NewSearXNGBackend(cfg.SearXNGURL, logger)
	default:
		return nil
	}
}
