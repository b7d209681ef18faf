// Package proactive gathers a live snapshot of the user's world (doses due,
// habits, reminders, alerts) and renders it as context for the model.
package proactive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/tracer"
)

// DefaultCheckTimeout bounds each individual check.
const DefaultCheckTimeout = 2 * time.Second

const (
	doseWindowHours   = 2
	maxReminderTexts  = 3
	budgetAlertPct    = 90.0
	openPortThreshold = 10
)

// Sources are the collaborators the assembler reads. A nil source skips
// its check, leaving the empty default.
type Sources struct {
	Meds      domain.MedsService
	Habits    domain.HabitsService
	Reminders domain.ReminderService
	Security  domain.SecurityService
	Finance   domain.FinanceService
	Gateway   domain.GatewayService
}

// Assembler builds a ProactiveContext from the collaborators.
type Assembler struct {
	src     Sources
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewAssembler creates an assembler whose checks each run under timeout.
func NewAssembler(src Sources, timeout time.Duration, logger *slog.Logger) *Assembler {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Assembler{src: src, timeout: timeout, now: time.Now, logger: logger}
}

// Gather runs all six checks concurrently and waits for every one of them.
// A check that fails or times out is logged and contributes its empty
// default; Gather itself never fails.
func (a *Assembler) Gather(ctx context.Context) domain.ProactiveContext {
	ctx, span := tracer.StartSpan(ctx, "proactive.gather")
	defer span.End()

	now := a.now()
	pc := domain.ProactiveContext{Timestamp: now, TimeOfDay: TimeOfDay(now)}

	var wg sync.WaitGroup
	run := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runCheck(ctx, name, fn)
		}()
	}

	if a.src.Meds != nil {
		run("medications", func(ctx context.Context) (err error) {
			pc.Medications, err = a.checkMedications(ctx, now)
			return err
		})
	}
	if a.src.Habits != nil {
		run("habits", func(ctx context.Context) (err error) {
			pc.Habits, err = a.checkHabits(ctx, now)
			return err
		})
	}
	if a.src.Reminders != nil {
		run("reminders", func(ctx context.Context) (err error) {
			pc.Reminders, err = a.checkReminders(ctx)
			return err
		})
	}
	if a.src.Security != nil {
		run("security", func(ctx context.Context) (err error) {
			pc.Security, err = a.checkSecurity(ctx)
			return err
		})
	}
	if a.src.Finance != nil {
		run("financial", func(ctx context.Context) (err error) {
			pc.Financial, err = a.checkFinancial(ctx)
			return err
		})
	}
	if a.src.Gateway != nil {
		run("system_health", func(ctx context.Context) (err error) {
			pc.SystemHealth, err = a.checkSystemHealth(ctx)
			return err
		})
	}

	wg.Wait()
	span.SetAttributes(tracer.BoolAttr("proactive.has_findings", pc.HasFindings()))
	return pc
}

func (a *Assembler) runCheck(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ctx, span := tracer.StartSpan(ctx, "proactive."+name)
	var err error
	defer func() { tracer.Finish(span, err) }()

	if err = fn(ctx); err != nil {
		a.logger.WarnContext(ctx, "proactive check failed", "check", name, "error", err)
	}
}

// checkMedications reports doses whose scheduled hour falls within the last
// doseWindowHours hours, inclusive.
func (a *Assembler) checkMedications(ctx context.Context, now time.Time) (domain.MedicationStatus, error) {
	meds, err := a.src.Meds.ListMedications(ctx)
	if err != nil {
		return domain.MedicationStatus{}, err
	}

	var st domain.MedicationStatus
	for _, m := range meds {
		for _, slot := range strings.Split(m.Time, ",") {
			slot = strings.TrimSpace(slot)
			hour, ok := parseHour(slot)
			if !ok {
				continue
			}
			if diff := now.Hour() - hour; diff >= 0 && diff <= doseWindowHours {
				st.Pending = append(st.Pending, domain.PendingDose{
					Name:      m.Name,
					Dosage:    m.Dosage,
					Time:      slot,
					Frequency: m.Frequency,
				})
			}
		}
	}
	return st, nil
}

// parseHour extracts the hour of an "HH:MM" slot.
func parseHour(slot string) (int, bool) {
	h, _, found := strings.Cut(slot, ":")
	if !found {
		return 0, false
	}
	hour, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	return hour, true
}

// checkHabits reports habits with no completion dated today.
func (a *Assembler) checkHabits(ctx context.Context, now time.Time) (domain.HabitStatus, error) {
	habits, err := a.src.Habits.ListHabits(ctx)
	if err != nil || len(habits) == 0 {
		return domain.HabitStatus{}, err
	}
	completions, err := a.src.Habits.ListCompletions(ctx)
	if err != nil {
		return domain.HabitStatus{}, err
	}

	today := now.Format(time.DateOnly)
	done := make(map[domain.RecordID]struct{})
	for _, c := range completions {
		if strings.HasPrefix(c.Date, today) {
			done[c.HabitID] = struct{}{}
		}
	}

	st := domain.HabitStatus{Total: len(habits), Completed: len(done)}
	for _, h := range habits {
		if _, ok := done[h.ID]; !ok {
			st.NotLogged = append(st.NotLogged, h.Name)
		}
	}
	return st, nil
}

func (a *Assembler) checkReminders(ctx context.Context) (domain.ReminderStatus, error) {
	rems, err := a.src.Reminders.PendingReminders(ctx, 0)
	if err != nil {
		return domain.ReminderStatus{}, err
	}
	st := domain.ReminderStatus{Count: len(rems)}
	for _, r := range rems[:min(len(rems), maxReminderTexts)] {
		st.Texts = append(st.Texts, reminderText(r))
	}
	return st, nil
}

// reminderText falls back to the JSON form of a reminder that has no text.
func reminderText(r domain.Reminder) string {
	if r.Text != "" {
		return r.Text
	}
	data, err := json.Marshal(r)
	if err != nil {
		return string(r.ID)
	}
	return string(data)
}

func (a *Assembler) checkSecurity(ctx context.Context) (domain.AlertStatus, error) {
	stats, err := a.src.Security.Stats(ctx)
	if err != nil {
		return domain.AlertStatus{}, err
	}
	var st domain.AlertStatus
	if stats.Vulnerabilities > 0 {
		st.Messages = append(st.Messages, fmt.Sprintf("%d vulnerabilities detected", stats.Vulnerabilities))
	}
	if stats.BlockedThreats > 0 {
		st.Messages = append(st.Messages, fmt.Sprintf("%d threats blocked", stats.BlockedThreats))
	}
	if stats.OpenPorts > openPortThreshold {
		st.Messages = append(st.Messages, fmt.Sprintf("%d open ports found", stats.OpenPorts))
	}
	return st, nil
}

func (a *Assembler) checkFinancial(ctx context.Context) (domain.AlertStatus, error) {
	budgets, err := a.src.Finance.ListBudgets(ctx)
	if err != nil {
		return domain.AlertStatus{}, err
	}
	var st domain.AlertStatus
	for _, b := range budgets {
		limit := b.EffectiveLimit()
		if limit <= 0 {
			continue
		}
		if pct := b.Spent / limit * 100; pct >= budgetAlertPct {
			st.Messages = append(st.Messages, fmt.Sprintf("%s: %.0f%% of budget used", b.Category, pct))
		}
	}
	return st, nil
}

func (a *Assembler) checkSystemHealth(ctx context.Context) (domain.HealthStatus, error) {
	status, err := a.src.Gateway.ServiceStatus(ctx)
	if err != nil {
		return domain.HealthStatus{}, err
	}
	var st domain.HealthStatus
	for name, h := range status {
		if !h.OK {
			st.DownServices = append(st.DownServices, name)
		}
	}
	sort.Strings(st.DownServices)
	return st, nil
}
