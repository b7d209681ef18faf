package tool

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"kilo-brain/internal/domain"
)

// nopLogger returns a logger that discards output.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// decodePayload unmarshals a result payload into a generic map.
func decodePayload(t *testing.T, res *domain.ToolResult) map[string]any {
	t.Helper()
	if res == nil {
		t.Fatal("nil result")
	}
	var m map[string]any
	if err := json.Unmarshal(res.Payload, &m); err != nil {
		t.Fatalf("payload is not a JSON object: %v (%s)", err, res.Payload)
	}
	return m
}

var errDown = errors.New("collaborator unavailable")

type fakeMeds struct {
	mu      sync.Mutex
	meds    []domain.Medication
	listErr error
	taken   []domain.RecordID
}

func (f *fakeMeds) ListMedications(context.Context) ([]domain.Medication, error) {
	return f.meds, f.listErr
}

func (f *fakeMeds) TakeMedication(_ context.Context, id domain.RecordID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taken = append(f.taken, id)
	return nil
}

type fakeHabits struct {
	habits      []domain.Habit
	completions []domain.HabitCompletion
	listErr     error
	completed   []domain.RecordID
}

func (f *fakeHabits) ListHabits(context.Context) ([]domain.Habit, error) {
	return f.habits, f.listErr
}

func (f *fakeHabits) ListCompletions(context.Context) ([]domain.HabitCompletion, error) {
	return f.completions, f.listErr
}

func (f *fakeHabits) CompleteHabit(_ context.Context, id domain.RecordID) error {
	f.completed = append(f.completed, id)
	return nil
}

type fakeFinance struct {
	txns      []domain.Transaction
	budgets   []domain.Budget
	err       error
	createdAs map[string]float64
}

func (f *fakeFinance) ListTransactions(context.Context) ([]domain.Transaction, error) {
	return f.txns, f.err
}

func (f *fakeFinance) ListBudgets(context.Context) ([]domain.Budget, error) {
	return f.budgets, f.err
}

func (f *fakeFinance) CreateBudget(_ context.Context, category string, limit float64) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.createdAs == nil {
		f.createdAs = make(map[string]float64)
	}
	f.createdAs[category] = limit
	return json.RawMessage(`{"id":1}`), nil
}

type fakeReminders struct {
	reminders []domain.Reminder
	lastLimit int
	created   []domain.Reminder
}

func (f *fakeReminders) PendingReminders(_ context.Context, limit int) ([]domain.Reminder, error) {
	f.lastLimit = limit
	return f.reminders, nil
}

func (f *fakeReminders) CreateReminder(_ context.Context, r domain.Reminder) (json.RawMessage, error) {
	f.created = append(f.created, r)
	return json.RawMessage(`{"id":9}`), nil
}

type fakeLibrary struct {
	results []domain.LibraryEntry
	query   string
	added   []domain.LibraryEntry
}

func (f *fakeLibrary) Search(_ context.Context, q string) ([]domain.LibraryEntry, error) {
	f.query = q
	return f.results, nil
}

func (f *fakeLibrary) AddEntry(_ context.Context, e domain.LibraryEntry) (json.RawMessage, error) {
	f.added = append(f.added, e)
	return json.RawMessage(`{"id":"e1"}`), nil
}

// recordingBus captures published events.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}
