package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
)

// RecordID is a collaborator record identifier. Services emit either numbers
// or strings; both decode into the same form.
type RecordID string

// UnmarshalJSON accepts a JSON number or string.
func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = RecordID(n.String())
	return nil
}

// MarshalJSON emits integers as numbers and everything else as strings.
func (id RecordID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Medication as served by the meds collaborator. Time holds one or more
// comma-separated "HH:MM" dose times.
type Medication struct {
	ID        RecordID `json:"id"`
	Name      string   `json:"name"`
	Dosage    string   `json:"dosage,omitempty"`
	Time      string   `json:"time,omitempty"`
	Frequency string   `json:"frequency,omitempty"`
}

// Habit as served by the habits collaborator.
type Habit struct {
	ID        RecordID `json:"id"`
	Name      string   `json:"name"`
	Frequency string   `json:"frequency,omitempty"`
}

// HabitCompletion records one completion; Date is an ISO-8601 date or timestamp.
type HabitCompletion struct {
	HabitID RecordID `json:"habit_id"`
	Date    string   `json:"date"`
}

// Transaction is a financial record. Expenses have negative amounts.
type Transaction struct {
	Amount      float64 `json:"amount"`
	Category    string  `json:"category,omitempty"`
	Date        string  `json:"date,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Budget is a monthly spending limit for a category. Older financial
// deployments report the limit as "limit" instead of "monthly_limit".
type Budget struct {
	ID           RecordID `json:"id,omitempty"`
	Category     string   `json:"category"`
	MonthlyLimit float64  `json:"monthly_limit"`
	Limit        float64  `json:"limit,omitempty"`
	Spent        float64  `json:"spent"`
}

// EffectiveLimit returns the monthly limit, whichever field carried it.
func (b Budget) EffectiveLimit() float64 {
	if b.MonthlyLimit > 0 {
		return b.MonthlyLimit
	}
	return b.Limit
}

// Reminder as served by the reminder collaborator.
type Reminder struct {
	ID         RecordID `json:"id,omitempty"`
	Text       string   `json:"text"`
	When       string   `json:"when,omitempty"`
	Recurrence string   `json:"recurrence,omitempty"`
}

// LibraryEntry is a knowledge-store record; its shape is owned by the library service.
type LibraryEntry map[string]any

// SecurityStats is the security monitor's summary.
type SecurityStats struct {
	Vulnerabilities int `json:"vulnerabilities"`
	BlockedThreats  int `json:"blocked_threats"`
	OpenPorts       int `json:"open_ports"`
}

// ServiceHealth is one entry of the gateway's admin status map.
type ServiceHealth struct {
	OK bool `json:"ok"`
}

// MedsService is the medications collaborator.
type MedsService interface {
	ListMedications(ctx context.Context) ([]Medication, error)
	TakeMedication(ctx context.Context, id RecordID) error
}

// HabitsService is the habits collaborator.
type HabitsService interface {
	ListHabits(ctx context.Context) ([]Habit, error)
	ListCompletions(ctx context.Context) ([]HabitCompletion, error)
	CompleteHabit(ctx context.Context, id RecordID) error
}

// FinanceService is the financial collaborator.
type FinanceService interface {
	ListTransactions(ctx context.Context) ([]Transaction, error)
	ListBudgets(ctx context.Context) ([]Budget, error)
	CreateBudget(ctx context.Context, category string, monthlyLimit float64) (json.RawMessage, error)
}

// ReminderService is the reminder collaborator. A limit of 0 means the
// service default.
type ReminderService interface {
	PendingReminders(ctx context.Context, limit int) ([]Reminder, error)
	CreateReminder(ctx context.Context, r Reminder) (json.RawMessage, error)
}

// LibraryService is the knowledge-store collaborator.
type LibraryService interface {
	Search(ctx context.Context, query string) ([]LibraryEntry, error)
	AddEntry(ctx context.Context, entry LibraryEntry) (json.RawMessage, error)
}

// SecurityService is the security monitor collaborator.
type SecurityService interface {
	Stats(ctx context.Context) (SecurityStats, error)
}

// GatewayService exposes the gateway's view of service health.
type GatewayService interface {
	ServiceStatus(ctx context.Context) (map[string]ServiceHealth, error)
}
