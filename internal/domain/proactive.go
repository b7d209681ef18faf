package domain

import "time"

// Time-of-day buckets.
const (
	TimeMorning   = "morning"
	TimeAfternoon = "afternoon"
	TimeEvening   = "evening"
	TimeNight     = "night"
)

// PendingDose is one scheduled dose whose window is open.
type PendingDose struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Time      string `json:"time"`
	Frequency string `json:"frequency,omitempty"`
}

// MedicationStatus lists doses scheduled within the last two hours.
type MedicationStatus struct {
	Pending []PendingDose `json:"pending"`
}

// HabitStatus lists habits with no completion today. Completed counts
// distinct habit IDs completed today.
type HabitStatus struct {
	NotLogged []string `json:"not_logged"`
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
}

// ReminderStatus summarizes pending reminders; Texts holds at most three.
type ReminderStatus struct {
	Count int      `json:"count"`
	Texts []string `json:"texts"`
}

// AlertStatus is a list of human-readable alert lines.
type AlertStatus struct {
	Messages []string `json:"messages"`
}

// HealthStatus names the services the gateway reports as down.
type HealthStatus struct {
	DownServices []string `json:"down_services"`
}

// ProactiveContext is a point-in-time snapshot of the user's world. It is
// built fresh for every request and never cached. A failed check leaves its
// zero value, which reads as "nothing to report".
type ProactiveContext struct {
	Timestamp    time.Time        `json:"timestamp"`
	TimeOfDay    string           `json:"time_of_day"`
	Medications  MedicationStatus `json:"medications"`
	Habits       HabitStatus      `json:"habits"`
	Reminders    ReminderStatus   `json:"reminders"`
	Security     AlertStatus      `json:"security"`
	Financial    AlertStatus      `json:"financial"`
	SystemHealth HealthStatus     `json:"system_health"`
}

// HasFindings reports whether any section has something worth mentioning.
func (p ProactiveContext) HasFindings() bool {
	return len(p.Medications.Pending) > 0 ||
		len(p.Habits.NotLogged) > 0 ||
		p.Reminders.Count > 0 ||
		len(p.Security.Messages) > 0 ||
		len(p.Financial.Messages) > 0 ||
		len(p.SystemHealth.DownServices) > 0
}
