package budget

import (
	"errors"
	"sync"
	"testing"
)

func TestReserveWithinCeiling(t *testing.T) {
	l := NewLedger()
	l.Register("w1", 1000)

	ok, err := l.Reserve("w1", 600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected reservation within ceiling to succeed")
	}

	ok, err = l.Reserve("w1", 600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected reservation past ceiling to be denied")
	}
}

func TestReserveUnknownWorker(t *testing.T) {
	l := NewLedger()
	if _, err := l.Reserve("ghost", 10); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestReserveZeroCeilingUnlimited(t *testing.T) {
	l := NewLedger()
	l.Register("w1", 0)

	for i := 0; i < 10; i++ {
		ok, err := l.Reserve("w1", 1_000_000)
		if err != nil || !ok {
			t.Fatalf("unlimited account should always reserve, got ok=%v err=%v", ok, err)
		}
	}
}

func TestConcurrentReserveExactlyOneSucceeds(t *testing.T) {
	// Two concurrent reservations that together exceed the ceiling:
	// exactly one must succeed. Repeat to shake out interleavings.
	for round := 0; round < 200; round++ {
		l := NewLedger()
		l.Register("w1", 1000)

		var wg sync.WaitGroup
		results := make([]bool, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(slot int) {
				defer wg.Done()
				ok, err := l.Reserve("w1", 700)
				if err != nil {
					t.Errorf("reserve: %v", err)
				}
				results[slot] = ok
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, ok := range results {
			if ok {
				succeeded++
			}
		}
		if succeeded != 1 {
			t.Fatalf("round %d: expected exactly one reservation to succeed, got %d", round, succeeded)
		}
	}
}

func TestConcurrentReserveStress(t *testing.T) {
	l := NewLedger()
	l.Register("w1", 1000)

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Reserve("w1", 100)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("ceiling 1000 / estimate 100: expected 10 grants, got %d", succeeded)
	}
	usage, err := l.Get("w1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if usage.Reserved != 1000 {
		t.Errorf("expected 1000 reserved, got %d", usage.Reserved)
	}
}

func TestCommitReconcilesReservation(t *testing.T) {
	l := NewLedger()
	l.Register("w1", 1000)

	if ok, _ := l.Reserve("w1", 400); !ok {
		t.Fatal("reserve failed")
	}
	if err := l.Commit("w1", 400, 350); err != nil {
		t.Fatalf("commit: %v", err)
	}

	usage, _ := l.Get("w1")
	if usage.Reserved != 0 {
		t.Errorf("expected reservation released, got %d", usage.Reserved)
	}
	if usage.Committed != 350 {
		t.Errorf("expected 350 committed, got %d", usage.Committed)
	}
	if usage.HardStop {
		t.Error("hard stop must not trip under the ceiling")
	}
}

func TestCommitOverageSetsHardStop(t *testing.T) {
	l := NewLedger()
	l.Register("w1", 1000)

	// Optimistic estimate: reserve 100, actually burn 1200.
	if ok, _ := l.Reserve("w1", 100); !ok {
		t.Fatal("reserve failed")
	}
	if err := l.Commit("w1", 100, 1200); err != nil {
		t.Fatalf("commit: %v", err)
	}

	usage, _ := l.Get("w1")
	if !usage.HardStop {
		t.Fatal("post-hoc overage must set the hard-stop flag")
	}

	// Subsequent reservations are denied, even tiny ones.
	if ok, _ := l.Reserve("w1", 1); ok {
		t.Error("hard-stopped account must deny reservations")
	}
}

func TestReleaseDropsReservation(t *testing.T) {
	l := NewLedger()
	l.Register("w1", 1000)

	if ok, _ := l.Reserve("w1", 900); !ok {
		t.Fatal("reserve failed")
	}
	if err := l.Release("w1", 900); err != nil {
		t.Fatalf("release: %v", err)
	}

	if ok, _ := l.Reserve("w1", 900); !ok {
		t.Error("budget should be reusable after release")
	}
}

func TestSetCeilingClearsHardStop(t *testing.T) {
	l := NewLedger()
	l.Register("w1", 100)

	if ok, _ := l.Reserve("w1", 50); !ok {
		t.Fatal("reserve failed")
	}
	if err := l.Commit("w1", 50, 150); err != nil {
		t.Fatal(err)
	}
	if usage, _ := l.Get("w1"); !usage.HardStop {
		t.Fatal("expected hard stop after overage")
	}

	if err := l.SetCeiling("w1", 1000); err != nil {
		t.Fatalf("SetCeiling: %v", err)
	}
	if ok, _ := l.Reserve("w1", 100); !ok {
		t.Error("raised ceiling should allow reservations again")
	}
}

func TestResetClearsUsage(t *testing.T) {
	l := NewLedger()
	l.Register("w1", 100)

	if ok, _ := l.Reserve("w1", 100); !ok {
		t.Fatal("reserve failed")
	}
	if err := l.Commit("w1", 100, 100); err != nil {
		t.Fatal(err)
	}
	if err := l.Reset("w1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	usage, _ := l.Get("w1")
	if usage.Committed != 0 || usage.Reserved != 0 || usage.HardStop {
		t.Errorf("expected clean account after reset, got %+v", usage)
	}
}

func TestReportSnapshot(t *testing.T) {
	l := NewLedger()
	l.Register("w2", 500)
	l.Register("w1", 1000)

	if ok, _ := l.Reserve("w1", 200); !ok {
		t.Fatal("reserve failed")
	}

	report := l.Report()
	if len(report) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(report))
	}
	if report[0].WorkerID != "w1" || report[1].WorkerID != "w2" {
		t.Errorf("expected report sorted by worker ID, got %v", report)
	}
	if report[0].Reserved != 200 {
		t.Errorf("expected w1 reservation in report, got %+v", report[0])
	}
	if report[0].Remaining() != 800 {
		t.Errorf("expected 800 remaining for w1, got %d", report[0].Remaining())
	}
}

func TestReportDoesNotBlockWriters(t *testing.T) {
	l := NewLedger()
	l.Register("w1", 1_000_000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			l.Reserve("w1", 1)
			l.Report()
		}
	}()

	for i := 0; i < 1000; i++ {
		l.Reserve("w1", 1)
	}
	<-done
}
