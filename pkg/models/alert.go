package models

import "time"

// AlertSeverity ranks alerts for notification routing.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert records a budget threshold crossing.
type Alert struct {
	ID               string        `json:"id"`
	Timestamp        time.Time     `json:"timestamp"`
	Severity         AlertSeverity `json:"severity"`
	FromMode         OperatingMode `json:"from_mode"`
	ToMode           OperatingMode `json:"to_mode"`
	Message          string        `json:"message"`
	TriggeringAmount float64       `json:"triggering_amount"`
}
