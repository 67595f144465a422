/*
Package sqlite provides a SQLite-backed implementation of academy.TxStore.

PURPOSE:
  Persists tenants, students, seasons, enrollments, payments, rest credits,
  refund expenses and billing-run records. In production the same schema
  ports to PostgreSQL with minor dialect changes.

KEY TABLES:
  tenants, students, seasons: Directory data (students keyed per tenant)
  season_enrollments:         Enrollment lifecycle and calculation snapshots
  payments:                   Monthly and season charges
  rest_credits:               Carryover/refund credits with a version column
  expenses:                   Refund expenses written on paid cancellations
  billing_runs:               Audit record of each monthly batch

INDEXES:
  - idx_unique_monthly_payment: One monthly payment per (tenant, student,
    month). Season charges are not constrained. A violation surfaces as
    academy.ErrDuplicatePayment.
  - idx_credits_open: Oldest-open-carryover lookup (hot path of the batch)

CONCURRENCY:
  Uses sync.RWMutex like the memory store. WithTx holds the write lock for
  the whole callback. Transactions are opened with BEGIN IMMEDIATE so the
  write lock is taken up front.

USAGE:
  store, err := sqlite.New("./data/tuition.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - academy/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/calendar"
)

// Store implements academy.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

var _ academy.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	if strings.Contains(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, q: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		default_due_day INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS students (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		monthly_tuition INTEGER NOT NULL DEFAULT 0,
		discount_rate TEXT NOT NULL DEFAULT '0',
		weekdays INTEGER NOT NULL DEFAULT 0,
		due_day INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		current_season_id TEXT,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_students_billable
		ON students(tenant_id, status, id);

	CREATE TABLE IF NOT EXISTS seasons (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		non_season_end_date TEXT NOT NULL,
		weekdays INTEGER NOT NULL DEFAULT 0,
		default_fee INTEGER NOT NULL DEFAULT 0,
		continuous_discount_type TEXT,
		continuous_discount_rate TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS season_enrollments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		season_id TEXT NOT NULL,
		registration_date TEXT NOT NULL,
		season_fee INTEGER NOT NULL,
		discount_type TEXT,
		discount_amount INTEGER NOT NULL DEFAULT 0,
		is_continuous INTEGER NOT NULL DEFAULT 0,
		previous_season_id TEXT,
		prorated_month TEXT,
		prorated_amount INTEGER NOT NULL DEFAULT 0,
		proration_details TEXT,
		status TEXT NOT NULL,
		paid_at TEXT,
		cancellation_date TEXT,
		refund_amount INTEGER NOT NULL DEFAULT 0,
		refund_calculation TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_student
		ON season_enrollments(tenant_id, student_id, created_at);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		year_month TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		base_amount INTEGER NOT NULL,
		discount_amount INTEGER NOT NULL DEFAULT 0,
		additional_amount INTEGER NOT NULL DEFAULT 0,
		carryover_amount INTEGER NOT NULL DEFAULT 0,
		final_amount INTEGER NOT NULL,
		credit_id TEXT,
		due_date TEXT,
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one monthly payment per student per month.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_monthly_payment
		ON payments(tenant_id, student_id, year_month)
		WHERE payment_type = 'monthly';

	CREATE INDEX IF NOT EXISTS idx_payments_month
		ON payments(tenant_id, year_month);

	CREATE TABLE IF NOT EXISTS rest_credits (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		credit_type TEXT NOT NULL,
		rest_start_date TEXT NOT NULL,
		rest_end_date TEXT NOT NULL,
		rest_days INTEGER NOT NULL,
		credit_amount INTEGER NOT NULL,
		remaining_amount INTEGER NOT NULL CHECK (remaining_amount >= 0),
		status TEXT NOT NULL,
		reason TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credits_open
		ON rest_credits(tenant_id, student_id, credit_type, status, created_at);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		category TEXT NOT NULL,
		amount INTEGER NOT NULL,
		expense_date TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_tenant
		ON expenses(tenant_id, created_at);

	CREATE TABLE IF NOT EXISTS billing_runs (
		id TEXT PRIMARY KEY,
		year_month TEXT NOT NULL,
		status TEXT NOT NULL,
		created INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_billing_runs_started
		ON billing_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (academy.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The academy.Store handed
// to fn must not be used after fn returns.
func (s *Store) WithTx(ctx context.Context, fn func(academy.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// LOCKED ACCESS OUTSIDE TRANSACTIONS
// =============================================================================

func (s *Store) ListTenants(ctx context.Context) ([]academy.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListTenants(ctx)
}

func (s *Store) GetTenant(ctx context.Context, id academy.TenantID) (academy.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetTenant(ctx, id)
}

func (s *Store) SaveTenant(ctx context.Context, t academy.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveTenant(ctx, t)
}

func (s *Store) ListBillableStudents(ctx context.Context, tenantID academy.TenantID) ([]academy.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListBillableStudents(ctx, tenantID)
}

func (s *Store) GetStudent(ctx context.Context, tenantID academy.TenantID, id academy.StudentID) (academy.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetStudent(ctx, tenantID, id)
}

func (s *Store) SaveStudent(ctx context.Context, st academy.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveStudent(ctx, st)
}

func (s *Store) GetSeason(ctx context.Context, tenantID academy.TenantID, id academy.SeasonID) (academy.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetSeason(ctx, tenantID, id)
}

func (s *Store) ListSeasons(ctx context.Context, tenantID academy.TenantID) ([]academy.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListSeasons(ctx, tenantID)
}

func (s *Store) SaveSeason(ctx context.Context, se academy.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveSeason(ctx, se)
}

func (s *Store) CreateEnrollment(ctx context.Context, e academy.SeasonEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateEnrollment(ctx, e)
}

func (s *Store) GetEnrollment(ctx context.Context, tenantID academy.TenantID, id academy.EnrollmentID) (academy.SeasonEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetEnrollment(ctx, tenantID, id)
}

func (s *Store) UpdateEnrollment(ctx context.Context, e academy.SeasonEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateEnrollment(ctx, e)
}

func (s *Store) ListStudentEnrollments(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID) ([]academy.SeasonEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListStudentEnrollments(ctx, tenantID, studentID)
}

func (s *Store) MonthlyPaymentExists(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID, ym calendar.YearMonth) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.MonthlyPaymentExists(ctx, tenantID, studentID, ym)
}

func (s *Store) CreatePayment(ctx context.Context, p academy.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreatePayment(ctx, p)
}

func (s *Store) ListPayments(ctx context.Context, f academy.PaymentFilter) ([]academy.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListPayments(ctx, f)
}

func (s *Store) CreateCredit(ctx context.Context, c academy.RestCredit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateCredit(ctx, c)
}

func (s *Store) GetCredit(ctx context.Context, tenantID academy.TenantID, id academy.CreditID) (academy.RestCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetCredit(ctx, tenantID, id)
}

func (s *Store) OldestOpenCarryover(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID) (*academy.RestCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.OldestOpenCarryover(ctx, tenantID, studentID)
}

func (s *Store) UpdateCredit(ctx context.Context, c academy.RestCredit, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateCredit(ctx, c, expectedVersion)
}

func (s *Store) ListCredits(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID) ([]academy.RestCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListCredits(ctx, tenantID, studentID)
}

func (s *Store) CreateExpense(ctx context.Context, e academy.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateExpense(ctx, e)
}

func (s *Store) ListExpenses(ctx context.Context, tenantID academy.TenantID) ([]academy.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListExpenses(ctx, tenantID)
}

func (s *Store) RecordRun(ctx context.Context, r academy.BillingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.RecordRun(ctx, r)
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]academy.BillingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListRuns(ctx, limit)
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"billing_runs", "expenses", "rest_credits", "payments", "season_enrollments", "seasons", "students", "tenants"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
