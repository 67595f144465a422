/*
Package credit keeps the rest-credit ledger: credits earned by pausing and
consumed by later monthly bills.

PURPOSE:
  A student who rests for part of a month earns a carryover credit. The
  monthly batch applies it to the next bills until it is used up. Support
  staff can reduce or cancel open credits by hand.

STATE MACHINE (per credit):
  pending -> partial -> applied      (applied is terminal)
  pending/partial -> cancelled       (external cancellation, terminal)

CONSUMPTION RULES:
  - Only carryover credits are consumed. Refund credits are paid out
    elsewhere and are bookkeeping only.
  - The OLDEST open carryover credit is used (FIFO by creation time).
  - At most ONE credit is consumed per billing cycle per student, even if it
    does not cover the bill. Leftover credits wait for later cycles.
  - Applied = min(remaining, floor1000(due)), so remaining stays a multiple
    of 1,000 and never goes below zero.

CONCURRENCY:
  Read remaining, decide, write remaining must not interleave with another
  writer for the same student. Two guards:
  1. Serialize holds a per-student mutex for the in-process critical section.
  2. UpdateCredit checks the row version, so a writer in another process
     fails with ErrConcurrentModification instead of losing an update.

  Lock order: the per-student lock is always taken BEFORE a store
  transaction is opened, never inside one.

SEE ALSO:
  - tuition.RestCreditAmount: credit formula
  - billing.Generator: the only caller of Consume
*/
package credit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/calendar"
	"github.com/warp/tuition-engine/money"
	"github.com/warp/tuition-engine/tuition"
)

// =============================================================================
// LEDGER
// =============================================================================

type studentKey struct {
	tenant  academy.TenantID
	student academy.StudentID
}

// studentLock is a per-student mutex shared by everyone waiting on it.
type studentLock struct {
	mu   sync.Mutex
	refs int
}

// Ledger applies the credit state machine on top of an academy.CreditStore.
// The store is passed per call so that callers can hand in a transaction.
type Ledger struct {
	mu sync.Mutex
	// locks holds only students with a Serialize call in flight; the last
	// caller out removes the entry.
	locks map[studentKey]*studentLock

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		locks: make(map[studentKey]*studentLock),
		Now:   time.Now,
	}
}

func (l *Ledger) acquire(k studentKey) *studentLock {
	l.mu.Lock()
	lk, ok := l.locks[k]
	if !ok {
		lk = &studentLock{}
		l.locks[k] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return lk
}

func (l *Ledger) release(k studentKey, lk *studentLock) {
	lk.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, k)
	}
}

// Serialize runs fn while holding the student's credit lock.
func (l *Ledger) Serialize(tenantID academy.TenantID, studentID academy.StudentID, fn func() error) error {
	k := studentKey{tenant: tenantID, student: studentID}
	lk := l.acquire(k)
	defer l.release(k, lk)
	return fn()
}

// =============================================================================
// ISSUE
// =============================================================================

type IssueRequest struct {
	TenantID   academy.TenantID
	StudentID  academy.StudentID
	MonthlyFee money.Amount
	RestStart  calendar.Date
	RestEnd    calendar.Date
	Type       academy.CreditType
	Reason     string
}

// Issue computes and records a rest credit. When the computed amount is not
// positive no credit is created and the returned credit is nil.
func (l *Ledger) Issue(ctx context.Context, store academy.CreditStore, req IssueRequest) (*academy.RestCredit, tuition.RestCreditResult, error) {
	calc, err := tuition.RestCreditAmount(req.MonthlyFee, req.RestStart, req.RestEnd)
	if err != nil {
		return nil, calc, err
	}
	if !calc.Amount.IsPositive() {
		return nil, calc, nil
	}

	typ := req.Type
	if typ == "" {
		typ = academy.CreditCarryover
	}
	if typ != academy.CreditCarryover && typ != academy.CreditRefund {
		return nil, calc, &academy.ValidationError{Field: "credit_type", Reason: fmt.Sprintf("unknown type %q", typ)}
	}

	now := l.Now()
	c := academy.RestCredit{
		ID:              academy.CreditID(uuid.NewString()),
		TenantID:        req.TenantID,
		StudentID:       req.StudentID,
		Type:            typ,
		RestStart:       req.RestStart,
		RestEnd:         req.RestEnd,
		RestDays:        calc.RestDays,
		CreditAmount:    calc.Amount,
		RemainingAmount: calc.Amount,
		Status:          academy.CreditPending,
		Reason:          req.Reason,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.CreateCredit(ctx, c); err != nil {
		return nil, calc, academy.Dependency("create credit", err)
	}
	return &c, calc, nil
}

// =============================================================================
// CONSUME
// =============================================================================

// Application is the outcome of consuming a credit against one bill.
type Application struct {
	CreditID  academy.CreditID
	Applied   money.Amount
	Remaining money.Amount
	Status    academy.CreditStatus
}

// Consume applies the student's oldest open carryover credit against due.
// The caller must hold the student's lock (see Serialize).
func (l *Ledger) Consume(ctx context.Context, store academy.CreditStore, tenantID academy.TenantID, studentID academy.StudentID, due money.Amount) (Application, error) {
	due = due.FloorToThousand()
	if !due.IsPositive() {
		return Application{}, nil
	}

	c, err := store.OldestOpenCarryover(ctx, tenantID, studentID)
	if err != nil {
		return Application{}, academy.Dependency("load carryover credit", err)
	}
	if c == nil || !c.RemainingAmount.IsPositive() {
		return Application{}, nil
	}

	applied := money.Min(c.RemainingAmount, due)
	expected := c.Version
	debit(c, applied)
	if err := l.write(ctx, store, c, expected); err != nil {
		return Application{}, err
	}

	return Application{
		CreditID:  c.ID,
		Applied:   applied,
		Remaining: c.RemainingAmount,
		Status:    c.Status,
	}, nil
}

// =============================================================================
// MANUAL OPERATIONS
// =============================================================================

// Adjust reduces an open credit's remaining amount by amount.
func (l *Ledger) Adjust(ctx context.Context, store academy.CreditStore, tenantID academy.TenantID, id academy.CreditID, amount money.Amount) (academy.RestCredit, error) {
	if !amount.IsPositive() {
		return academy.RestCredit{}, &academy.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return l.locked(ctx, store, tenantID, id, "adjust", func(c *academy.RestCredit) error {
		if amount > c.RemainingAmount {
			return &academy.ValidationError{
				Field:  "amount",
				Reason: fmt.Sprintf("exceeds remaining credit %s", c.RemainingAmount),
			}
		}
		debit(c, amount)
		return nil
	})
}

// Cancel moves an open credit to cancelled. Its remaining amount is kept for
// the record but is never consumed.
func (l *Ledger) Cancel(ctx context.Context, store academy.CreditStore, tenantID academy.TenantID, id academy.CreditID) (academy.RestCredit, error) {
	return l.locked(ctx, store, tenantID, id, "cancel", func(c *academy.RestCredit) error {
		c.Status = academy.CreditCancelled
		return nil
	})
}

// locked loads the credit, takes its student's lock, reloads it and applies
// mutate if the credit is still open.
func (l *Ledger) locked(ctx context.Context, store academy.CreditStore, tenantID academy.TenantID, id academy.CreditID, op string, mutate func(*academy.RestCredit) error) (academy.RestCredit, error) {
	first, err := store.GetCredit(ctx, tenantID, id)
	if err != nil {
		return academy.RestCredit{}, academy.Dependency("load credit", err)
	}

	var out academy.RestCredit
	err = l.Serialize(tenantID, first.StudentID, func() error {
		c, err := store.GetCredit(ctx, tenantID, id)
		if err != nil {
			return academy.Dependency("load credit", err)
		}
		if !c.Status.IsOpen() {
			return &academy.StateError{Entity: "credit", ID: string(id), State: string(c.Status), Op: op}
		}
		expected := c.Version
		if err := mutate(&c); err != nil {
			return err
		}
		if err := l.write(ctx, store, &c, expected); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// debit lowers the remaining amount; applied is reached only at exactly zero.
func debit(c *academy.RestCredit, amount money.Amount) {
	c.RemainingAmount -= amount
	if c.RemainingAmount == 0 {
		c.Status = academy.CreditApplied
	} else {
		c.Status = academy.CreditPartial
	}
}

// write persists c if the stored row is still at version expected.
func (l *Ledger) write(ctx context.Context, store academy.CreditStore, c *academy.RestCredit, expected int) error {
	c.Version = expected + 1
	c.UpdatedAt = l.Now()
	if err := store.UpdateCredit(ctx, *c, expected); err != nil {
		return academy.Dependency("update credit", err)
	}
	return nil
}
