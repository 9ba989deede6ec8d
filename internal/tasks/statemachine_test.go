package tasks

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusDownloading, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusPending, StatusPaused, false},

		{StatusDownloading, StatusCompleted, true},
		{StatusDownloading, StatusFailed, true},
		{StatusDownloading, StatusPaused, true},
		{StatusDownloading, StatusCancelled, true},
		{StatusDownloading, StatusPending, false},

		{StatusPaused, StatusDownloading, true},
		{StatusPaused, StatusCancelled, true},
		{StatusPaused, StatusCompleted, false},
		{StatusPaused, StatusFailed, false},

		{StatusFailed, StatusDownloading, true},
		{StatusFailed, StatusCancelled, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusPaused, false},

		{StatusCompleted, StatusDownloading, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusDownloading, false},
		{StatusCancelled, StatusPending, false},

		{StatusPending, StatusPending, false},
		{StatusDownloading, StatusDownloading, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalAndEligible(t *testing.T) {
	terminal := map[Status]bool{
		StatusCompleted: true,
		StatusCancelled: true,
	}
	eligible := map[Status]bool{
		StatusPending: true,
		StatusPaused:  true,
		StatusFailed:  true,
	}
	for _, status := range []Status{
		StatusPending, StatusDownloading, StatusPaused,
		StatusCompleted, StatusFailed, StatusCancelled,
	} {
		task := Task{Status: status}
		if got := task.Terminal(); got != terminal[status] {
			t.Errorf("Terminal() for %q = %v, want %v", status, got, terminal[status])
		}
		if got := task.Eligible(); got != eligible[status] {
			t.Errorf("Eligible() for %q = %v, want %v", status, got, eligible[status])
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, status := range []Status{
		StatusPending, StatusDownloading, StatusPaused,
		StatusCompleted, StatusFailed, StatusCancelled,
	} {
		if !status.Valid() {
			t.Errorf("Valid() for %q = false, want true", status)
		}
	}
	if Status("exploded").Valid() {
		t.Errorf("Valid() for made-up status = true, want false")
	}
}
