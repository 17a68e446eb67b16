package diag

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.RowsDropped(3)
	m.RowsDropped(2)
	m.ActionDropped("favorite", "retry_exhausted")
	m.PullCompleted(7, nil)
	m.PullCompleted(0, errors.New("offline"))
	m.DrainCompleted(4, 1, 1)

	if got := testutil.ToFloat64(m.rowsDropped); got != 5 {
		t.Errorf("rows dropped = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.actionsDropped.WithLabelValues("favorite", "retry_exhausted")); got != 1 {
		t.Errorf("actions dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pulls.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok pulls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pulls.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed pulls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.termsApplied); got != 7 {
		t.Errorf("terms applied = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.drainApplied); got != 4 {
		t.Errorf("drain applied = %v, want 4", got)
	}
}

type countingSink struct {
	Nop
	rows int
}

func (c *countingSink) RowsDropped(n int) { c.rows += n }

func TestMultiAndOr(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	Multi{a, b}.RowsDropped(2)
	if a.rows != 2 || b.rows != 2 {
		t.Errorf("Multi did not fan out: %d %d", a.rows, b.rows)
	}

	if _, ok := Or(nil).(Nop); !ok {
		t.Error("Or(nil) should return Nop")
	}
	if Or(a) != Sink(a) {
		t.Error("Or(s) should return s")
	}
}
