package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/config"
)

// Meds implements domain.MedsService.
type Meds struct{ c *Client }

// NewMeds wraps a client pointed at the meds service.
func NewMeds(c *Client) *Meds { return &Meds{c: c} }

func (m *Meds) ListMedications(ctx context.Context) ([]domain.Medication, error) {
	var raw json.RawMessage
	if err := m.c.Get(ctx, "/meds/", nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.Medication](raw, "meds")
}

func (m *Meds) TakeMedication(ctx context.Context, id domain.RecordID) error {
	return m.c.Post(ctx, "/meds/"+url.PathEscape(string(id))+"/take", nil, nil)
}

// Habits implements domain.HabitsService.
type Habits struct{ c *Client }

// NewHabits wraps a client pointed at the habits service.
func NewHabits(c *Client) *Habits { return &Habits{c: c} }

func (h *Habits) ListHabits(ctx context.Context) ([]domain.Habit, error) {
	var raw json.RawMessage
	if err := h.c.Get(ctx, "/habits/", nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.Habit](raw, "habits")
}

func (h *Habits) ListCompletions(ctx context.Context) ([]domain.HabitCompletion, error) {
	var raw json.RawMessage
	if err := h.c.Get(ctx, "/habits/completions", nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.HabitCompletion](raw, "completions")
}

func (h *Habits) CompleteHabit(ctx context.Context, id domain.RecordID) error {
	return h.c.Post(ctx, "/habits/"+url.PathEscape(string(id))+"/complete", nil, nil)
}

// Finance implements domain.FinanceService.
type Finance struct{ c *Client }

// NewFinance wraps a client pointed at the financial service.
func NewFinance(c *Client) *Finance { return &Finance{c: c} }

func (f *Finance) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	var raw json.RawMessage
	if err := f.c.Get(ctx, "/transactions", nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.Transaction](raw, "transactions")
}

func (f *Finance) ListBudgets(ctx context.Context) ([]domain.Budget, error) {
	var raw json.RawMessage
	if err := f.c.Get(ctx, "/budgets", nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.Budget](raw, "budgets")
}

func (f *Finance) CreateBudget(ctx context.Context, category string, monthlyLimit float64) (json.RawMessage, error) {
	body := map[string]any{"category": category, "monthly_limit": monthlyLimit}
	var out json.RawMessage
	if err := f.c.Post(ctx, "/budgets", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Reminders implements domain.ReminderService.
type Reminders struct{ c *Client }

// NewReminders wraps a client pointed at the reminder service.
func NewReminders(c *Client) *Reminders { return &Reminders{c: c} }

func (r *Reminders) PendingReminders(ctx context.Context, limit int) ([]domain.Reminder, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var raw json.RawMessage
	if err := r.c.Get(ctx, "/notifications/pending", q, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.Reminder](raw, "reminders")
}

func (r *Reminders) CreateReminder(ctx context.Context, rem domain.Reminder) (json.RawMessage, error) {
	body := map[string]any{"text": rem.Text, "when": rem.When}
	if rem.Recurrence != "" {
		body["recurrence"] = rem.Recurrence
	}
	var out json.RawMessage
	if err := r.c.Post(ctx, "/", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Library implements domain.LibraryService.
type Library struct{ c *Client }

// NewLibrary wraps a client pointed at the library service.
func NewLibrary(c *Client) *Library { return &Library{c: c} }

func (l *Library) Search(ctx context.Context, query string) ([]domain.LibraryEntry, error) {
	var raw json.RawMessage
	if err := l.c.Get(ctx, "/search", url.Values{"q": {query}}, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.LibraryEntry](raw, "results")
}

func (l *Library) AddEntry(ctx context.Context, entry domain.LibraryEntry) (json.RawMessage, error) {
	var out json.RawMessage
	if err := l.c.Post(ctx, "/entries", entry, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Security implements domain.SecurityService.
type Security struct{ c *Client }

// NewSecurity wraps a client pointed at the security monitor.
func NewSecurity(c *Client) *Security { return &Security{c: c} }

func (s *Security) Stats(ctx context.Context) (domain.SecurityStats, error) {
	var resp struct {
		Stats domain.SecurityStats `json:"stats"`
	}
	if err := s.c.Get(ctx, "/stats", nil, &resp); err != nil {
		return domain.SecurityStats{}, err
	}
	return resp.Stats, nil
}

// Gateway implements domain.GatewayService.
type Gateway struct{ c *Client }

// NewGateway wraps a client pointed at the gateway.
func NewGateway(c *Client) *Gateway { return &Gateway{c: c} }

// ServiceStatus returns the health entries of /admin/status. Entries that
// are not JSON objects are skipped; an object without "ok" counts as down.
func (g *Gateway) ServiceStatus(ctx context.Context) (map[string]domain.ServiceHealth, error) {
	var raw map[string]json.RawMessage
	if err := g.c.Get(ctx, "/admin/status", nil, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]domain.ServiceHealth, len(raw))
	for name, entry := range raw {
		entry = bytes.TrimSpace(entry)
		if len(entry) == 0 || entry[0] != '{' {
			continue
		}
		var h domain.ServiceHealth
		if err := json.Unmarshal(entry, &h); err != nil {
			return nil, fmt.Errorf("gateway: decode status for %s: %w", name, err)
		}
		out[name] = h
	}
	return out, nil
}

// Services bundles one typed client per collaborator.
type Services struct {
	Meds      *Meds
	Habits    *Habits
	Finance   *Finance
	Reminders *Reminders
	Library   *Library
	Security  *Security
	Gateway   *Gateway
}

// NewServices builds every collaborator client from config.
func NewServices(cfg config.CollaboratorsConfig, logger *slog.Logger) *Services {
	opts := OptionsFromConfig(cfg)
	mk := func(name string, svc config.ServiceConfig) *Client {
		return New(name, svc.URL, opts, logger)
	}
	return &Services{
		Meds:      NewMeds(mk("meds", cfg.Meds)),
		Habits:    NewHabits(mk("habits", cfg.Habits)),
		Finance:   NewFinance(mk("financial", cfg.Financial)),
		Reminders: NewReminders(mk("reminder", cfg.Reminder)),
		Library:   NewLibrary(mk("library", cfg.Library)),
		Security:  NewSecurity(mk("security", cfg.Security)),
		Gateway:   NewGateway(mk("gateway", cfg.Gateway)),
	}
}

var (
	_ domain.MedsService     = (*Meds)(nil)
	_ domain.HabitsService   = (*Habits)(nil)
	_ domain.FinanceService  = (*Finance)(nil)
	_ domain.ReminderService = (*Reminders)(nil)
	_ domain.LibraryService  = (*Library)(nil)
	_ domain.SecurityService = (*Security)(nil)
	_ domain.GatewayService  = (*Gateway)(nil)
)
