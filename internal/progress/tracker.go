package progress

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Tracker tracks transfer progress table by table. The bar is suppressed when
// stdout is not a terminal so headless runs keep clean logs.
type Tracker struct {
	bar     *progressbar.ProgressBar
	current atomic.Int64
	total   int64
}

// New creates a tracker for the given number of tables.
func New(totalTables int) *Tracker {
	t := &Tracker{total: int64(totalTables)}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return t
	}

	t.bar = progressbar.NewOptions64(
		int64(totalTables),
		progressbar.OptionSetDescription("Copying"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetItsString("tables"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
	return t
}

// StartTable updates the description to the table currently transferring.
func (t *Tracker) StartTable(name string) {
	if t.bar != nil {
		t.bar.Describe("Copying " + name)
	}
}

// TableDone advances the bar by one table.
func (t *Tracker) TableDone() {
	t.current.Add(1)
	if t.bar != nil {
		t.bar.Add(1)
	}
}

// Done returns how many tables have completed.
func (t *Tracker) Done() int64 {
	return t.current.Load()
}

// Finish completes and clears the bar.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}
}
