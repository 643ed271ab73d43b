package notify

import (
	"time"

	"github.com/anturkov/SQL-DB-CopyData/internal/report"
)

// Provider defines the notification contract for copy run events.
// This interface allows for different notification backends (Slack, email, etc.)
// and enables easier testing through mock implementations.
type Provider interface {
	// RunStarted sends notification when a copy run starts.
	RunStarted(runID, sourceDB, destDB string) error

	// RunCompleted sends the final notification for a run that produced a report.
	RunCompleted(rep *report.Report) error

	// RunFailed sends notification when a run aborts before producing a report.
	RunFailed(runID string, err error, duration time.Duration) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
