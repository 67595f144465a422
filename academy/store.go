/*
store.go - Repository interfaces consumed by the billing engine

PURPOSE:
  Decouples the calculators and orchestration from persistence. The batch
  generator and the enrollment service depend only on these interfaces;
  connections are injected, never reached through package globals.

KEY INTERFACES:
  StudentDirectory:  Tenants and students (read, plus status/season pointer)
  SeasonDirectory:   Seasons
  EnrollmentStore:   Season enrollments
  PaymentStore:      Payment records (existence check + create)
  CreditStore:       Rest credits (oldest open carryover, versioned update)
  ExpenseStore:      Refund expenses recorded on cancellation
  RunStore:          Billing run audit records
  TxStore:           Store + WithTx for atomic multi-table writes

IDEMPOTENCY:
  CreatePayment must reject a second monthly payment for the same
  (student, year-month) with ErrDuplicatePayment even when two callers race
  past MonthlyPaymentExists. Store implementations enforce this with a
  unique key, so duplicate batch runs are safe.

OPTIMISTIC CONCURRENCY:
  UpdateCredit takes the version the caller read. If the stored row has moved
  on, it returns ErrConcurrentModification and writes nothing.

IMPLEMENTATIONS:
  - store/sqlite: database/sql + SQLite
  - store/memory: in-memory, for tests and local runs
*/
package academy

import (
	"context"

	"github.com/warp/tuition-engine/calendar"
)

// =============================================================================
// DIRECTORIES - Owned by the surrounding academy system
// =============================================================================

type StudentDirectory interface {
	ListTenants(ctx context.Context) ([]Tenant, error)
	GetTenant(ctx context.Context, id TenantID) (Tenant, error)
	SaveTenant(ctx context.Context, t Tenant) error

	// ListBillableStudents returns active students with positive tuition,
	// ordered by ID.
	ListBillableStudents(ctx context.Context, tenantID TenantID) ([]Student, error)
	GetStudent(ctx context.Context, tenantID TenantID, id StudentID) (Student, error)
	SaveStudent(ctx context.Context, s Student) error
}

type SeasonDirectory interface {
	GetSeason(ctx context.Context, tenantID TenantID, id SeasonID) (Season, error)
	ListSeasons(ctx context.Context, tenantID TenantID) ([]Season, error)
	SaveSeason(ctx context.Context, s Season) error
}

// =============================================================================
// ENGINE-OWNED RECORDS
// =============================================================================

type EnrollmentStore interface {
	CreateEnrollment(ctx context.Context, e SeasonEnrollment) error
	GetEnrollment(ctx context.Context, tenantID TenantID, id EnrollmentID) (SeasonEnrollment, error)
	UpdateEnrollment(ctx context.Context, e SeasonEnrollment) error

	// ListStudentEnrollments returns the student's enrollments, oldest first.
	ListStudentEnrollments(ctx context.Context, tenantID TenantID, studentID StudentID) ([]SeasonEnrollment, error)
}

// PaymentFilter narrows ListPayments. Zero fields match everything.
type PaymentFilter struct {
	TenantID  TenantID
	StudentID StudentID
	YearMonth calendar.YearMonth
}

type PaymentStore interface {
	MonthlyPaymentExists(ctx context.Context, tenantID TenantID, studentID StudentID, ym calendar.YearMonth) (bool, error)

	// CreatePayment returns ErrDuplicatePayment if a monthly payment for the
	// same student and year-month exists.
	CreatePayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)
}

type CreditStore interface {
	CreateCredit(ctx context.Context, c RestCredit) error
	GetCredit(ctx context.Context, tenantID TenantID, id CreditID) (RestCredit, error)

	// OldestOpenCarryover returns the oldest pending or partial carryover
	// credit with a positive remaining amount, ordered by creation time then
	// ID. Returns (nil, nil) when the student has none.
	OldestOpenCarryover(ctx context.Context, tenantID TenantID, studentID StudentID) (*RestCredit, error)

	// UpdateCredit writes c if the stored version equals expectedVersion.
	// The caller sets c.Version to expectedVersion+1.
	UpdateCredit(ctx context.Context, c RestCredit, expectedVersion int) error

	// ListCredits returns the student's credits, oldest first.
	ListCredits(ctx context.Context, tenantID TenantID, studentID StudentID) ([]RestCredit, error)
}

type ExpenseStore interface {
	CreateExpense(ctx context.Context, e Expense) error
	ListExpenses(ctx context.Context, tenantID TenantID) ([]Expense, error)
}

type RunStore interface {
	RecordRun(ctx context.Context, r BillingRun) error
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]BillingRun, error)
}

// =============================================================================
// STORE - Everything the engine reads and writes
// =============================================================================

type Store interface {
	StudentDirectory
	SeasonDirectory
	EnrollmentStore
	PaymentStore
	CreditStore
	ExpenseStore
	RunStore
}

// TxStore wraps Store with transaction support.
// Enrollment, cancellation and each student's billing step run inside WithTx.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
