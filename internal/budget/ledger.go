// Package budget tracks per-worker cost accounting with hard-stop
// enforcement. Every account carries its own lock so reservations on
// independent workers never contend.
package budget

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownAccount indicates the worker has no registered budget account.
var ErrUnknownAccount = errors.New("unknown budget account")

// account is the per-worker ledger entry. All fields are guarded by mu.
type account struct {
	mu       sync.Mutex
	workerID string
	// ceiling is the maximum cumulative usage before dispatch is blocked.
	// Zero means unlimited.
	ceiling int64
	// committed is the cumulative actual usage across completed work.
	committed int64
	// reserved is the sum of outstanding reservations not yet committed.
	reserved int64
	// hardStop blocks all further reservations once set. It is set when a
	// commit pushes actual usage past the ceiling, and cleared only by an
	// explicit operator reset.
	hardStop bool
}

// Usage is a point-in-time view of one account.
type Usage struct {
	WorkerID  string `json:"worker_id"`
	Ceiling   int64  `json:"ceiling"`
	Committed int64  `json:"committed"`
	Reserved  int64  `json:"reserved"`
	HardStop  bool   `json:"hard_stop"`
}

// Remaining returns the headroom under the ceiling after committed and
// reserved usage. Negative when overspent.
func (u Usage) Remaining() int64 {
	if u.Ceiling <= 0 {
		return 0
	}
	return u.Ceiling - u.Committed - u.Reserved
}

// Ledger holds the budget accounts for all registered workers.
type Ledger struct {
	// mu guards the accounts map only. Account state is guarded per account.
	mu       sync.RWMutex
	accounts map[string]*account
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]*account)}
}

// Register creates an account for a worker with the given ceiling.
// A ceiling of zero disables enforcement for that worker.
func (l *Ledger) Register(workerID string, ceiling int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[workerID]; exists {
		return
	}
	l.accounts[workerID] = &account{workerID: workerID, ceiling: ceiling}
}

// Reserve atomically checks the worker's remaining budget and, if the
// estimate fits, records the reservation. Returns false when the
// reservation would exceed the ceiling or the account is hard-stopped;
// the caller defers the task rather than failing it.
func (l *Ledger) Reserve(workerID string, estimate int64) (bool, error) {
	acct, err := l.account(workerID)
	if err != nil {
		return false, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.hardStop {
		return false, nil
	}
	if acct.ceiling > 0 && acct.committed+acct.reserved+estimate > acct.ceiling {
		return false, nil
	}
	acct.reserved += estimate
	return true, nil
}

// Commit reconciles a reservation with actual usage. The actual cost may
// differ from the estimate; if cumulative actual usage ends up past the
// ceiling the hard-stop flag is set immediately so subsequent reservations
// are denied.
func (l *Ledger) Commit(workerID string, estimate, actual int64) error {
	acct, err := l.account(workerID)
	if err != nil {
		return err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	acct.reserved -= estimate
	if acct.reserved < 0 {
		acct.reserved = 0
	}
	acct.committed += actual
	if acct.ceiling > 0 && acct.committed >= acct.ceiling {
		acct.hardStop = true
	}
	return nil
}

// Release drops a reservation without committing any usage, e.g. when a
// dispatch is cancelled before the worker reported cost.
func (l *Ledger) Release(workerID string, estimate int64) error {
	acct, err := l.account(workerID)
	if err != nil {
		return err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	acct.reserved -= estimate
	if acct.reserved < 0 {
		acct.reserved = 0
	}
	return nil
}

// SetCeiling adjusts a worker's ceiling. Raising the ceiling above current
// committed usage clears the hard-stop flag.
func (l *Ledger) SetCeiling(workerID string, ceiling int64) error {
	acct, err := l.account(workerID)
	if err != nil {
		return err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	acct.ceiling = ceiling
	if ceiling <= 0 || acct.committed < ceiling {
		acct.hardStop = false
	}
	return nil
}

// Reset clears an account's usage and hard-stop flag. Operator action for
// a new billing period.
func (l *Ledger) Reset(workerID string) error {
	acct, err := l.account(workerID)
	if err != nil {
		return err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	acct.committed = 0
	acct.reserved = 0
	acct.hardStop = false
	return nil
}

// Report returns a point-in-time snapshot of every account, sorted by
// worker ID. Each account is locked only long enough to copy its fields,
// so writers are never blocked behind a reader iterating the report.
func (l *Ledger) Report() []Usage {
	l.mu.RLock()
	accts := make([]*account, 0, len(l.accounts))
	for _, a := range l.accounts {
		accts = append(accts, a)
	}
	l.mu.RUnlock()

	report := make([]Usage, 0, len(accts))
	for _, a := range accts {
		a.mu.Lock()
		report = append(report, Usage{
			WorkerID:  a.workerID,
			Ceiling:   a.ceiling,
			Committed: a.committed,
			Reserved:  a.reserved,
			HardStop:  a.hardStop,
		})
		a.mu.Unlock()
	}

	sort.Slice(report, func(i, j int) bool { return report[i].WorkerID < report[j].WorkerID })
	return report
}

// Get returns the usage snapshot for a single worker.
func (l *Ledger) Get(workerID string) (Usage, error) {
	acct, err := l.account(workerID)
	if err != nil {
		return Usage{}, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	return Usage{
		WorkerID:  acct.workerID,
		Ceiling:   acct.ceiling,
		Committed: acct.committed,
		Reserved:  acct.reserved,
		HardStop:  acct.hardStop,
	}, nil
}

func (l *Ledger) account(workerID string) (*account, error) {
	l.mu.RLock()
	acct, ok := l.accounts[workerID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", workerID, ErrUnknownAccount)
	}
	return acct, nil
}
