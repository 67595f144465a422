// Package memory provides an in-memory academy.TxStore for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/calendar"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store guards a state with a RWMutex. WithTx holds the write lock for the
// whole callback and restores a snapshot if the callback fails.
type Store struct {
	mu sync.RWMutex
	st *state
}

var _ academy.TxStore = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Store) WithTx(ctx context.Context, fn func(academy.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// Reset clears all data.
func (m *Store) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

func (m *Store) read(fn func(*state)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.st)
}

func (m *Store) write(fn func(*state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

// ===== Directory =====

func (m *Store) ListTenants(ctx context.Context) (out []academy.Tenant, err error) {
	m.read(func(s *state) { out, err = s.ListTenants(ctx) })
	return
}

func (m *Store) GetTenant(ctx context.Context, id academy.TenantID) (out academy.Tenant, err error) {
	m.read(func(s *state) { out, err = s.GetTenant(ctx, id) })
	return
}

func (m *Store) SaveTenant(ctx context.Context, t academy.Tenant) error {
	return m.write(func(s *state) error { return s.SaveTenant(ctx, t) })
}

func (m *Store) ListBillableStudents(ctx context.Context, tenantID academy.TenantID) (out []academy.Student, err error) {
	m.read(func(s *state) { out, err = s.ListBillableStudents(ctx, tenantID) })
	return
}

func (m *Store) GetStudent(ctx context.Context, tenantID academy.TenantID, id academy.StudentID) (out academy.Student, err error) {
	m.read(func(s *state) { out, err = s.GetStudent(ctx, tenantID, id) })
	return
}

func (m *Store) SaveStudent(ctx context.Context, st academy.Student) error {
	return m.write(func(s *state) error { return s.SaveStudent(ctx, st) })
}

func (m *Store) GetSeason(ctx context.Context, tenantID academy.TenantID, id academy.SeasonID) (out academy.Season, err error) {
	m.read(func(s *state) { out, err = s.GetSeason(ctx, tenantID, id) })
	return
}

func (m *Store) ListSeasons(ctx context.Context, tenantID academy.TenantID) (out []academy.Season, err error) {
	m.read(func(s *state) { out, err = s.ListSeasons(ctx, tenantID) })
	return
}

func (m *Store) SaveSeason(ctx context.Context, se academy.Season) error {
	return m.write(func(s *state) error { return s.SaveSeason(ctx, se) })
}

// ===== Enrollments =====

func (m *Store) CreateEnrollment(ctx context.Context, e academy.SeasonEnrollment) error {
	return m.write(func(s *state) error { return s.CreateEnrollment(ctx, e) })
}

func (m *Store) GetEnrollment(ctx context.Context, tenantID academy.TenantID, id academy.EnrollmentID) (out academy.SeasonEnrollment, err error) {
	m.read(func(s *state) { out, err = s.GetEnrollment(ctx, tenantID, id) })
	return
}

func (m *Store) UpdateEnrollment(ctx context.Context, e academy.SeasonEnrollment) error {
	return m.write(func(s *state) error { return s.UpdateEnrollment(ctx, e) })
}

func (m *Store) ListStudentEnrollments(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID) (out []academy.SeasonEnrollment, err error) {
	m.read(func(s *state) { out, err = s.ListStudentEnrollments(ctx, tenantID, studentID) })
	return
}

// ===== Payments =====

func (m *Store) MonthlyPaymentExists(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID, ym calendar.YearMonth) (ok bool, err error) {
	m.read(func(s *state) { ok, err = s.MonthlyPaymentExists(ctx, tenantID, studentID, ym) })
	return
}

func (m *Store) CreatePayment(ctx context.Context, p academy.Payment) error {
	return m.write(func(s *state) error { return s.CreatePayment(ctx, p) })
}

func (m *Store) ListPayments(ctx context.Context, f academy.PaymentFilter) (out []academy.Payment, err error) {
	m.read(func(s *state) { out, err = s.ListPayments(ctx, f) })
	return
}

// ===== Credits =====

func (m *Store) CreateCredit(ctx context.Context, c academy.RestCredit) error {
	return m.write(func(s *state) error { return s.CreateCredit(ctx, c) })
}

func (m *Store) GetCredit(ctx context.Context, tenantID academy.TenantID, id academy.CreditID) (out academy.RestCredit, err error) {
	m.read(func(s *state) { out, err = s.GetCredit(ctx, tenantID, id) })
	return
}

func (m *Store) OldestOpenCarryover(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID) (out *academy.RestCredit, err error) {
	m.read(func(s *state) { out, err = s.OldestOpenCarryover(ctx, tenantID, studentID) })
	return
}

func (m *Store) UpdateCredit(ctx context.Context, c academy.RestCredit, expectedVersion int) error {
	return m.write(func(s *state) error { return s.UpdateCredit(ctx, c, expectedVersion) })
}

func (m *Store) ListCredits(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID) (out []academy.RestCredit, err error) {
	m.read(func(s *state) { out, err = s.ListCredits(ctx, tenantID, studentID) })
	return
}

// ===== Expenses and runs =====

func (m *Store) CreateExpense(ctx context.Context, e academy.Expense) error {
	return m.write(func(s *state) error { return s.CreateExpense(ctx, e) })
}

func (m *Store) ListExpenses(ctx context.Context, tenantID academy.TenantID) (out []academy.Expense, err error) {
	m.read(func(s *state) { out, err = s.ListExpenses(ctx, tenantID) })
	return
}

func (m *Store) RecordRun(ctx context.Context, r academy.BillingRun) error {
	return m.write(func(s *state) error { return s.RecordRun(ctx, r) })
}

func (m *Store) ListRuns(ctx context.Context, limit int) (out []academy.BillingRun, err error) {
	m.read(func(s *state) { out, err = s.ListRuns(ctx, limit) })
	return
}

// =============================================================================
// STATE - Unlocked data, also the transactional view handed to WithTx
// =============================================================================

type studentKey struct {
	tenant academy.TenantID
	id     academy.StudentID
}

type seasonKey struct {
	tenant academy.TenantID
	id     academy.SeasonID
}

type state struct {
	tenants     map[academy.TenantID]academy.Tenant
	students    map[studentKey]academy.Student
	seasons     map[seasonKey]academy.Season
	enrollments map[academy.EnrollmentID]academy.SeasonEnrollment
	payments    []academy.Payment
	credits     map[academy.CreditID]academy.RestCredit
	expenses    []academy.Expense
	runs        map[string]academy.BillingRun
}

func newState() *state {
	return &state{
		tenants:     make(map[academy.TenantID]academy.Tenant),
		students:    make(map[studentKey]academy.Student),
		seasons:     make(map[seasonKey]academy.Season),
		enrollments: make(map[academy.EnrollmentID]academy.SeasonEnrollment),
		credits:     make(map[academy.CreditID]academy.RestCredit),
		runs:        make(map[string]academy.BillingRun),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.students {
		c.students[k] = v
	}
	for k, v := range s.seasons {
		c.seasons[k] = v
	}
	for k, v := range s.enrollments {
		c.enrollments[k] = v
	}
	for k, v := range s.credits {
		c.credits[k] = v
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	c.payments = append([]academy.Payment(nil), s.payments...)
	c.expenses = append([]academy.Expense(nil), s.expenses...)
	return c
}

func (s *state) ListTenants(context.Context) ([]academy.Tenant, error) {
	out := make([]academy.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) GetTenant(_ context.Context, id academy.TenantID) (academy.Tenant, error) {
	t, ok := s.tenants[id]
	if !ok {
		return academy.Tenant{}, &academy.NotFoundError{Entity: "tenant", ID: string(id)}
	}
	return t, nil
}

func (s *state) SaveTenant(_ context.Context, t academy.Tenant) error {
	s.tenants[t.ID] = t
	return nil
}

func (s *state) ListBillableStudents(_ context.Context, tenantID academy.TenantID) ([]academy.Student, error) {
	var out []academy.Student
	for k, st := range s.students {
		if k.tenant == tenantID && st.IsBillable() {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) GetStudent(_ context.Context, tenantID academy.TenantID, id academy.StudentID) (academy.Student, error) {
	st, ok := s.students[studentKey{tenantID, id}]
	if !ok {
		return academy.Student{}, &academy.NotFoundError{Entity: "student", ID: string(id)}
	}
	return st, nil
}

func (s *state) SaveStudent(_ context.Context, st academy.Student) error {
	s.students[studentKey{st.TenantID, st.ID}] = st
	return nil
}

func (s *state) GetSeason(_ context.Context, tenantID academy.TenantID, id academy.SeasonID) (academy.Season, error) {
	se, ok := s.seasons[seasonKey{tenantID, id}]
	if !ok {
		return academy.Season{}, &academy.NotFoundError{Entity: "season", ID: string(id)}
	}
	return se, nil
}

func (s *state) ListSeasons(_ context.Context, tenantID academy.TenantID) ([]academy.Season, error) {
	var out []academy.Season
	for k, se := range s.seasons {
		if k.tenant == tenantID {
			out = append(out, se)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *state) SaveSeason(_ context.Context, se academy.Season) error {
	s.seasons[seasonKey{se.TenantID, se.ID}] = se
	return nil
}

func (s *state) CreateEnrollment(_ context.Context, e academy.SeasonEnrollment) error {
	s.enrollments[e.ID] = e
	return nil
}

func (s *state) GetEnrollment(_ context.Context, tenantID academy.TenantID, id academy.EnrollmentID) (academy.SeasonEnrollment, error) {
	e, ok := s.enrollments[id]
	if !ok || e.TenantID != tenantID {
		return academy.SeasonEnrollment{}, &academy.NotFoundError{Entity: "enrollment", ID: string(id)}
	}
	return e, nil
}

func (s *state) UpdateEnrollment(_ context.Context, e academy.SeasonEnrollment) error {
	if _, ok := s.enrollments[e.ID]; !ok {
		return &academy.NotFoundError{Entity: "enrollment", ID: string(e.ID)}
	}
	s.enrollments[e.ID] = e
	return nil
}

func (s *state) ListStudentEnrollments(_ context.Context, tenantID academy.TenantID, studentID academy.StudentID) ([]academy.SeasonEnrollment, error) {
	var out []academy.SeasonEnrollment
	for _, e := range s.enrollments {
		if e.TenantID == tenantID && e.StudentID == studentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) MonthlyPaymentExists(_ context.Context, tenantID academy.TenantID, studentID academy.StudentID, ym calendar.YearMonth) (bool, error) {
	for _, p := range s.payments {
		if p.TenantID == tenantID && p.StudentID == studentID && p.YearMonth == ym && p.ChargeType == academy.ChargeMonthly {
			return true, nil
		}
	}
	return false, nil
}

func (s *state) CreatePayment(ctx context.Context, p academy.Payment) error {
	if p.ChargeType == academy.ChargeMonthly {
		exists, _ := s.MonthlyPaymentExists(ctx, p.TenantID, p.StudentID, p.YearMonth)
		if exists {
			return academy.ErrDuplicatePayment
		}
	}
	s.payments = append(s.payments, p)
	return nil
}

func (s *state) ListPayments(_ context.Context, f academy.PaymentFilter) ([]academy.Payment, error) {
	var out []academy.Payment
	for _, p := range s.payments {
		if f.TenantID != "" && p.TenantID != f.TenantID {
			continue
		}
		if f.StudentID != "" && p.StudentID != f.StudentID {
			continue
		}
		if !f.YearMonth.IsZero() && p.YearMonth != f.YearMonth {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *state) CreateCredit(_ context.Context, c academy.RestCredit) error {
	s.credits[c.ID] = c
	return nil
}

func (s *state) GetCredit(_ context.Context, tenantID academy.TenantID, id academy.CreditID) (academy.RestCredit, error) {
	c, ok := s.credits[id]
	if !ok || c.TenantID != tenantID {
		return academy.RestCredit{}, &academy.NotFoundError{Entity: "credit", ID: string(id)}
	}
	return c, nil
}

func (s *state) OldestOpenCarryover(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID) (*academy.RestCredit, error) {
	credits, _ := s.ListCredits(ctx, tenantID, studentID)
	for _, c := range credits {
		if c.Type == academy.CreditCarryover && c.Status.IsOpen() && c.RemainingAmount.IsPositive() {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *state) UpdateCredit(_ context.Context, c academy.RestCredit, expectedVersion int) error {
	cur, ok := s.credits[c.ID]
	if !ok {
		return &academy.NotFoundError{Entity: "credit", ID: string(c.ID)}
	}
	if cur.Version != expectedVersion {
		return academy.ErrConcurrentModification
	}
	s.credits[c.ID] = c
	return nil
}

func (s *state) ListCredits(_ context.Context, tenantID academy.TenantID, studentID academy.StudentID) ([]academy.RestCredit, error) {
	var out []academy.RestCredit
	for _, c := range s.credits {
		if c.TenantID == tenantID && c.StudentID == studentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) CreateExpense(_ context.Context, e academy.Expense) error {
	s.expenses = append(s.expenses, e)
	return nil
}

func (s *state) ListExpenses(_ context.Context, tenantID academy.TenantID) ([]academy.Expense, error) {
	var out []academy.Expense
	for _, e := range s.expenses {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *state) RecordRun(_ context.Context, r academy.BillingRun) error {
	s.runs[r.ID] = r
	return nil
}

func (s *state) ListRuns(_ context.Context, limit int) ([]academy.BillingRun, error) {
	out := make([]academy.BillingRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
