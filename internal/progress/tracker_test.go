package progress

import "testing"

func TestTrackerCounts(t *testing.T) {
	tr := New(3)
	if tr.Done() != 0 {
		t.Errorf("Done() = %d before any table completed, want 0", tr.Done())
	}

	tr.StartTable("dbo.Orders")
	tr.TableDone()
	tr.TableDone()
	if tr.Done() != 2 {
		t.Errorf("Done() = %d after two tables, want 2", tr.Done())
	}
	tr.Finish()
}
