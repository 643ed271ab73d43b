package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anturkov/SQL-DB-CopyData/internal/config"
	"github.com/anturkov/SQL-DB-CopyData/internal/report"
)

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color      string       `json:"color,omitempty"`
	Title      string       `json:"title,omitempty"`
	Text       string       `json:"text,omitempty"`
	Fields     []SlackField `json:"fields,omitempty"`
	Footer     string       `json:"footer,omitempty"`
	FooterIcon string       `json:"footer_icon,omitempty"`
	Timestamp  int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// RunStarted sends notification when a copy run starts
func (n *Notifier) RunStarted(runID, sourceDB, destDB string) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":rocket:",
		Attachments: []SlackAttachment{
			{
				Color: "#36a64f", // green
				Title: "Copy Started",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Source", Value: sourceDB, Short: true},
					{Title: "Destination", Value: destDB, Short: true},
				},
				Footer:    "sql-db-copydata",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// RunCompleted sends the final notification for a run that produced a report.
// A report with failed tables gets the warning treatment, a clean one the
// success treatment.
func (n *Notifier) RunCompleted(rep *report.Report) error {
	if !n.IsEnabled() {
		return nil
	}

	var copied int64
	for _, c := range rep.Counts {
		if c.DestinationRows > 0 {
			copied += c.DestinationRows
		}
	}

	if len(rep.FailedTables) == 0 {
		msg := SlackMessage{
			Channel:   n.config.Channel,
			Username:  n.getUsername(),
			IconEmoji: ":white_check_mark:",
			Text: fmt.Sprintf("Copy completed. %d tables, %s rows, %s -> %s.",
				len(rep.Counts), formatNumberWithCommas(copied), rep.SourceDB, rep.DestinationDB),
			Attachments: []SlackAttachment{
				{
					Color: "#36a64f", // green
					Fields: []SlackField{
						{Title: "Run ID", Value: rep.RunID, Short: true},
						{Title: "Started", Value: rep.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
						{Title: "Duration", Value: formatDuration(rep.Duration), Short: true},
						{Title: "Tables", Value: fmt.Sprintf("%d", len(rep.Counts)), Short: true},
						{Title: "Total Rows", Value: formatNumberWithCommas(copied), Short: true},
					},
					Footer:    "sql-db-copydata",
					Timestamp: time.Now().Unix(),
				},
			},
		}
		return n.send(msg)
	}

	succeeded := len(rep.Counts) - len(rep.FailedTables)
	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":warning:",
		Text: fmt.Sprintf("Copy completed with errors. %d tables succeeded, %d failed.",
			succeeded, len(rep.FailedTables)),
		Attachments: []SlackAttachment{
			{
				Color: "#ffc107", // yellow/orange
				Fields: []SlackField{
					{Title: "Run ID", Value: rep.RunID, Short: true},
					{Title: "Started", Value: rep.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
					{Title: "Duration", Value: formatDuration(rep.Duration), Short: true},
					{Title: "Succeeded", Value: fmt.Sprintf("%d tables", succeeded), Short: true},
					{Title: "Failed", Value: fmt.Sprintf("%d tables", len(rep.FailedTables)), Short: true},
					{Title: "Failed Tables", Value: summarizeFailures(rep.FailedTables), Short: false},
				},
				Footer:    "sql-db-copydata",
				Timestamp: time.Now().Unix(),
			},
		},
	}
	return n.send(msg)
}

// RunFailed sends notification when a run aborts before producing a report
func (n *Notifier) RunFailed(runID string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{
			{
				Color: "#dc3545", // red
				Title: "Copy Failed",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Duration", Value: duration.Round(time.Second).String(), Short: true},
					{Title: "Error", Value: errMsg, Short: false},
				},
				Footer:    "sql-db-copydata",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

func summarizeFailures(failures []string) string {
	if len(failures) == 0 {
		return ""
	}
	if len(failures) <= 5 {
		summary := failures[0]
		for i := 1; i < len(failures); i++ {
			summary += ", " + failures[i]
		}
		return summary
	}
	return fmt.Sprintf("%s, %s, %s... and %d more",
		failures[0], failures[1], failures[2], len(failures)-3)
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return "sql-db-copydata"
}

func formatNumberWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result []byte
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
