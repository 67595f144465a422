package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/calendar"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements academy.Store without locking. Store wraps it with the
// mutex; inside WithTx it runs directly against the *sql.Tx.
type queries struct {
	db querier
}

var _ academy.Store = queries{}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// TENANTS AND STUDENTS
// =============================================================================

func (q queries) ListTenants(ctx context.Context) ([]academy.Tenant, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT id, name, default_due_day FROM tenants ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var out []academy.Tenant
	for rows.Next() {
		var t academy.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.DefaultDueDay); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q queries) GetTenant(ctx context.Context, id academy.TenantID) (academy.Tenant, error) {
	var t academy.Tenant
	err := q.db.QueryRowContext(ctx,
		"SELECT id, name, default_due_day FROM tenants WHERE id = ?", id,
	).Scan(&t.ID, &t.Name, &t.DefaultDueDay)
	if errors.Is(err, sql.ErrNoRows) {
		return t, &academy.NotFoundError{Entity: "tenant", ID: string(id)}
	}
	return t, err
}

func (q queries) SaveTenant(ctx context.Context, t academy.Tenant) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, default_due_day, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			default_due_day = excluded.default_due_day
	`, t.ID, t.Name, t.DefaultDueDay, formatTime(time.Now()))
	return err
}

const studentColumns = `id, tenant_id, name, monthly_tuition, discount_rate, weekdays, due_day, status, current_season_id`

func scanStudent(row rowScanner) (academy.Student, error) {
	var (
		st       academy.Student
		rate     string
		weekdays int
		current  sql.NullString
	)
	if err := row.Scan(&st.ID, &st.TenantID, &st.Name, &st.MonthlyTuition, &rate, &weekdays, &st.DueDay, &st.Status, &current); err != nil {
		return st, err
	}
	st.DiscountRate = parseDecimal(rate)
	st.Weekdays = calendar.WeekdaySet(weekdays)
	st.CurrentSeasonID = academy.SeasonID(current.String)
	return st, nil
}

// ListBillableStudents mirrors Student.IsBillable in SQL.
func (q queries) ListBillableStudents(ctx context.Context, tenantID academy.TenantID) ([]academy.Student, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+studentColumns+" FROM students WHERE tenant_id = ? AND status = ? AND monthly_tuition > 0 ORDER BY id",
		tenantID, academy.StudentActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	var out []academy.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (q queries) GetStudent(ctx context.Context, tenantID academy.TenantID, id academy.StudentID) (academy.Student, error) {
	st, err := scanStudent(q.db.QueryRowContext(ctx,
		"SELECT "+studentColumns+" FROM students WHERE tenant_id = ? AND id = ?", tenantID, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return st, &academy.NotFoundError{Entity: "student", ID: string(id)}
	}
	return st, err
}

func (q queries) SaveStudent(ctx context.Context, st academy.Student) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO students (`+studentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			monthly_tuition = excluded.monthly_tuition,
			discount_rate = excluded.discount_rate,
			weekdays = excluded.weekdays,
			due_day = excluded.due_day,
			status = excluded.status,
			current_season_id = excluded.current_season_id
	`,
		st.ID, st.TenantID, st.Name, int64(st.MonthlyTuition), st.DiscountRate.String(),
		int(st.Weekdays), st.DueDay, st.Status, nullString(string(st.CurrentSeasonID)),
	)
	return err
}

// =============================================================================
// SEASONS
// =============================================================================

const seasonColumns = `id, tenant_id, name, start_date, end_date, non_season_end_date, weekdays,
	default_fee, continuous_discount_type, continuous_discount_rate`

func scanSeason(row rowScanner) (academy.Season, error) {
	var (
		se                    academy.Season
		start, end, nonSeason string
		weekdays              int
		discountType          sql.NullString
		rate                  string
	)
	err := row.Scan(&se.ID, &se.TenantID, &se.Name, &start, &end, &nonSeason, &weekdays,
		&se.DefaultFee, &discountType, &rate)
	if err != nil {
		return se, err
	}
	se.Start = parseDate(start)
	se.End = parseDate(end)
	se.NonSeasonEnd = parseDate(nonSeason)
	se.Weekdays = calendar.WeekdaySet(weekdays)
	se.Continuation = academy.ContinuationDiscount{
		Type: academy.ContinuationDiscountType(discountType.String),
		Rate: parseDecimal(rate),
	}
	return se, nil
}

func (q queries) GetSeason(ctx context.Context, tenantID academy.TenantID, id academy.SeasonID) (academy.Season, error) {
	se, err := scanSeason(q.db.QueryRowContext(ctx,
		"SELECT "+seasonColumns+" FROM seasons WHERE tenant_id = ? AND id = ?", tenantID, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return se, &academy.NotFoundError{Entity: "season", ID: string(id)}
	}
	return se, err
}

func (q queries) ListSeasons(ctx context.Context, tenantID academy.TenantID) ([]academy.Season, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+seasonColumns+" FROM seasons WHERE tenant_id = ? ORDER BY start_date, id", tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query seasons: %w", err)
	}
	defer rows.Close()

	var out []academy.Season
	for rows.Next() {
		se, err := scanSeason(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan season: %w", err)
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

func (q queries) SaveSeason(ctx context.Context, se academy.Season) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO seasons (`+seasonColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			non_season_end_date = excluded.non_season_end_date,
			weekdays = excluded.weekdays,
			default_fee = excluded.default_fee,
			continuous_discount_type = excluded.continuous_discount_type,
			continuous_discount_rate = excluded.continuous_discount_rate
	`,
		se.ID, se.TenantID, se.Name, se.Start.String(), se.End.String(), se.NonSeasonEnd.String(),
		int(se.Weekdays), int64(se.DefaultFee),
		nullString(string(se.Continuation.Type)), se.Continuation.Rate.String(),
	)
	return err
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

const enrollmentColumns = `id, tenant_id, student_id, season_id, registration_date, season_fee,
	discount_type, discount_amount, is_continuous, previous_season_id,
	prorated_month, prorated_amount, proration_details,
	status, paid_at, cancellation_date, refund_amount, refund_calculation,
	created_at, updated_at`

func scanEnrollment(row rowScanner) (academy.SeasonEnrollment, error) {
	var (
		e                                    academy.SeasonEnrollment
		registered                           string
		discountType, previous, month        sql.NullString
		details, paidAt, cancelled, snapshot sql.NullString
		createdAt, updatedAt                 string
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.StudentID, &e.SeasonID, &registered, &e.SeasonFee,
		&discountType, &e.DiscountAmount, &e.Continuous, &previous,
		&month, &e.ProratedAmount, &details,
		&e.Status, &paidAt, &cancelled, &e.RefundAmount, &snapshot,
		&createdAt, &updatedAt)
	if err != nil {
		return e, err
	}
	e.RegistrationDate = parseDate(registered)
	e.DiscountType = academy.ContinuationDiscountType(discountType.String)
	e.PreviousSeasonID = academy.SeasonID(previous.String)
	if month.Valid && month.String != "" {
		if e.ProratedMonth, err = calendar.ParseYearMonth(month.String); err != nil {
			return e, fmt.Errorf("enrollment %s prorated_month: %w", e.ID, err)
		}
	}
	if details.Valid {
		e.ProrationDetails = json.RawMessage(details.String)
	}
	if paidAt.Valid {
		t := parseTime(paidAt.String)
		e.PaidAt = &t
	}
	e.CancellationDate = parseDate(cancelled.String)
	if snapshot.Valid {
		e.RefundCalculation = json.RawMessage(snapshot.String)
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

func paidAtArg(e academy.SeasonEnrollment) sql.NullString {
	if e.PaidAt == nil {
		return sql.NullString{}
	}
	return nullString(formatTime(*e.PaidAt))
}

func enrollmentArgs(e academy.SeasonEnrollment) []any {
	var month string
	if !e.ProratedMonth.IsZero() {
		month = e.ProratedMonth.String()
	}
	return []any{
		e.ID, e.TenantID, e.StudentID, e.SeasonID, e.RegistrationDate.String(), int64(e.SeasonFee),
		nullString(string(e.DiscountType)), int64(e.DiscountAmount), e.Continuous, nullString(string(e.PreviousSeasonID)),
		nullString(month), int64(e.ProratedAmount), nullString(string(e.ProrationDetails)),
		e.Status, paidAtArg(e), nullString(e.CancellationDate.String()), int64(e.RefundAmount), nullString(string(e.RefundCalculation)),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	}
}

func (q queries) CreateEnrollment(ctx context.Context, e academy.SeasonEnrollment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO season_enrollments (`+enrollmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, enrollmentArgs(e)...)
	if err != nil {
		return fmt.Errorf("failed to insert enrollment: %w", err)
	}
	return nil
}

func (q queries) GetEnrollment(ctx context.Context, tenantID academy.TenantID, id academy.EnrollmentID) (academy.SeasonEnrollment, error) {
	e, err := scanEnrollment(q.db.QueryRowContext(ctx,
		"SELECT "+enrollmentColumns+" FROM season_enrollments WHERE tenant_id = ? AND id = ?", tenantID, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return e, &academy.NotFoundError{Entity: "enrollment", ID: string(id)}
	}
	return e, err
}

func (q queries) UpdateEnrollment(ctx context.Context, e academy.SeasonEnrollment) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE season_enrollments SET
			season_fee = ?, discount_type = ?, discount_amount = ?,
			status = ?, paid_at = ?, cancellation_date = ?,
			refund_amount = ?, refund_calculation = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`,
		int64(e.SeasonFee), nullString(string(e.DiscountType)), int64(e.DiscountAmount),
		e.Status, paidAtArg(e), nullString(e.CancellationDate.String()),
		int64(e.RefundAmount), nullString(string(e.RefundCalculation)), formatTime(e.UpdatedAt),
		e.TenantID, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &academy.NotFoundError{Entity: "enrollment", ID: string(e.ID)}
	}
	return nil
}

func (q queries) ListStudentEnrollments(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID) ([]academy.SeasonEnrollment, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+enrollmentColumns+" FROM season_enrollments WHERE tenant_id = ? AND student_id = ? ORDER BY created_at, id",
		tenantID, studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	var out []academy.SeasonEnrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, tenant_id, student_id, year_month, payment_type,
	base_amount, discount_amount, additional_amount, carryover_amount, final_amount,
	credit_id, due_date, status, description, created_at`

func (q queries) MonthlyPaymentExists(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID, ym calendar.YearMonth) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM payments WHERE tenant_id = ? AND student_id = ? AND year_month = ? AND payment_type = ?",
		tenantID, studentID, ym.String(), academy.ChargeMonthly,
	).Scan(&count)
	return count > 0, err
}

func (q queries) CreatePayment(ctx context.Context, p academy.Payment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.TenantID, p.StudentID, p.YearMonth.String(), p.ChargeType,
		int64(p.BaseAmount), int64(p.DiscountAmount), int64(p.AdditionalAmount), int64(p.CarryoverAmount), int64(p.FinalAmount),
		nullString(string(p.CreditID)), nullString(p.DueDate.String()), p.Status, p.Description, formatTime(p.CreatedAt),
	)
	if err != nil {
		if isMonthlyUniquenessError(err) {
			return academy.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (q queries) ListPayments(ctx context.Context, f academy.PaymentFilter) ([]academy.Payment, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where, args = append(where, "tenant_id = ?"), append(args, f.TenantID)
	}
	if f.StudentID != "" {
		where, args = append(where, "student_id = ?"), append(args, f.StudentID)
	}
	if !f.YearMonth.IsZero() {
		where, args = append(where, "year_month = ?"), append(args, f.YearMonth.String())
	}
	query := "SELECT " + paymentColumns + " FROM payments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []academy.Payment
	for rows.Next() {
		var (
			p                academy.Payment
			month, createdAt string
			creditID, due    sql.NullString
		)
		err := rows.Scan(&p.ID, &p.TenantID, &p.StudentID, &month, &p.ChargeType,
			&p.BaseAmount, &p.DiscountAmount, &p.AdditionalAmount, &p.CarryoverAmount, &p.FinalAmount,
			&creditID, &due, &p.Status, &p.Description, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.YearMonth, err = calendar.ParseYearMonth(month); err != nil {
			return nil, fmt.Errorf("payment %s year_month: %w", p.ID, err)
		}
		p.CreditID = academy.CreditID(creditID.String)
		p.DueDate = parseDate(due.String)
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// REST CREDITS
// =============================================================================

const creditColumns = `id, tenant_id, student_id, credit_type, rest_start_date, rest_end_date, rest_days,
	credit_amount, remaining_amount, status, reason, version, created_at, updated_at`

func scanCredit(row rowScanner) (academy.RestCredit, error) {
	var (
		c                    academy.RestCredit
		start, end           string
		reason               sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.StudentID, &c.Type, &start, &end, &c.RestDays,
		&c.CreditAmount, &c.RemainingAmount, &c.Status, &reason, &c.Version, &createdAt, &updatedAt)
	if err != nil {
		return c, err
	}
	c.RestStart = parseDate(start)
	c.RestEnd = parseDate(end)
	c.Reason = reason.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func (q queries) CreateCredit(ctx context.Context, c academy.RestCredit) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rest_credits (`+creditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.TenantID, c.StudentID, c.Type, c.RestStart.String(), c.RestEnd.String(), c.RestDays,
		int64(c.CreditAmount), int64(c.RemainingAmount), c.Status, nullString(c.Reason), c.Version,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert credit: %w", err)
	}
	return nil
}

func (q queries) GetCredit(ctx context.Context, tenantID academy.TenantID, id academy.CreditID) (academy.RestCredit, error) {
	c, err := scanCredit(q.db.QueryRowContext(ctx,
		"SELECT "+creditColumns+" FROM rest_credits WHERE tenant_id = ? AND id = ?", tenantID, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return c, &academy.NotFoundError{Entity: "credit", ID: string(id)}
	}
	return c, err
}

func (q queries) OldestOpenCarryover(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID) (*academy.RestCredit, error) {
	c, err := scanCredit(q.db.QueryRowContext(ctx, `
		SELECT `+creditColumns+` FROM rest_credits
		WHERE tenant_id = ? AND student_id = ? AND credit_type = ?
		  AND status IN (?, ?) AND remaining_amount > 0
		ORDER BY created_at, id
		LIMIT 1
	`, tenantID, studentID, academy.CreditCarryover, academy.CreditPending, academy.CreditPartial))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open credit: %w", err)
	}
	return &c, nil
}

// UpdateCredit writes c only if the stored version still equals
// expectedVersion.
func (q queries) UpdateCredit(ctx context.Context, c academy.RestCredit, expectedVersion int) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE rest_credits SET
			remaining_amount = ?, status = ?, reason = ?, version = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND version = ?
	`,
		int64(c.RemainingAmount), c.Status, nullString(c.Reason), c.Version, formatTime(c.UpdatedAt),
		c.TenantID, c.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update credit: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := q.GetCredit(ctx, c.TenantID, c.ID); err != nil {
		return err
	}
	return academy.ErrConcurrentModification
}

func (q queries) ListCredits(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID) ([]academy.RestCredit, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+creditColumns+" FROM rest_credits WHERE tenant_id = ? AND student_id = ? ORDER BY created_at, id",
		tenantID, studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query credits: %w", err)
	}
	defer rows.Close()

	var out []academy.RestCredit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// EXPENSES AND BILLING RUNS
// =============================================================================

func (q queries) CreateExpense(ctx context.Context, e academy.Expense) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO expenses (id, tenant_id, category, amount, expense_date, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TenantID, e.Category, int64(e.Amount), e.ExpenseDate.String(), e.Description, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return nil
}

func (q queries) ListExpenses(ctx context.Context, tenantID academy.TenantID) ([]academy.Expense, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, category, amount, expense_date, description, created_at
		FROM expenses WHERE tenant_id = ? ORDER BY created_at, id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var out []academy.Expense
	for rows.Next() {
		var (
			e               academy.Expense
			date, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Category, &e.Amount, &date, &e.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		e.ExpenseDate = parseDate(date)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q queries) RecordRun(ctx context.Context, r academy.BillingRun) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO billing_runs (id, year_month, status, created, skipped, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			created = excluded.created,
			skipped = excluded.skipped,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`,
		r.ID, r.YearMonth.String(), r.Status, r.Created, r.Skipped, r.Failed, nullString(r.Error),
		formatTime(r.StartedAt), formatTime(r.CompletedAt),
	)
	return err
}

func (q queries) ListRuns(ctx context.Context, limit int) ([]academy.BillingRun, error) {
	query := `
		SELECT id, year_month, status, created, skipped, failed, error, started_at, completed_at
		FROM billing_runs ORDER BY started_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query billing runs: %w", err)
	}
	defer rows.Close()

	var out []academy.BillingRun
	for rows.Next() {
		var (
			r                             academy.BillingRun
			month, startedAt, completedAt string
			runErr                        sql.NullString
		)
		if err := rows.Scan(&r.ID, &month, &r.Status, &r.Created, &r.Skipped, &r.Failed, &runErr, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan billing run: %w", err)
		}
		ym, err := calendar.ParseYearMonth(month)
		if err != nil {
			return nil, fmt.Errorf("billing run %s year_month: %w", r.ID, err)
		}
		r.YearMonth = ym
		r.Error = runErr.String
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseTime(completedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// Helper functions
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout is fixed-width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

// parseDate returns the zero Date for empty or malformed values.
func parseDate(s string) calendar.Date {
	if s == "" {
		return calendar.Date{}
	}
	d, _ := calendar.ParseDate(s)
	return d
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

// isMonthlyUniquenessError matches idx_unique_monthly_payment, which SQLite
// reports by column list rather than index name.
func isMonthlyUniquenessError(err error) bool {
	return isUniqueConstraintError(err) && strings.Contains(err.Error(), "payments.year_month")
}
