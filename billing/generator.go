/*
Package billing orchestrates the calculators against the stores: the monthly
billing batch and the season enrollment lifecycle.

PURPOSE:
  This is the only layer with side effects. Calculators in tuition are pure;
  the credit ledger owns the credit state machine; this package decides WHEN
  they run and makes each unit of work atomic.

MONTHLY BATCH (generator.go):
  For every tenant and every active student with positive tuition, create
  exactly one monthly Payment for the billing month:

    1. skip if a monthly payment for (student, month) exists
    2. discount   = floor1000(base * rate / 100)
    3. additional = pro-rated top-up when a season's non-season end falls in
                    the NEXT month, before the season start
    4. carryover  = oldest open carryover credit applied against
                    base - discount + additional
    5. final      = floor1000(base - discount + additional - carryover)
    6. due date   = student due day, else tenant default, clamped to month end

FAILURE ISOLATION:
  Each student is one transaction. A failing student is logged, counted and
  skipped; the batch continues with the next student and the next tenant.
  Results are folded into a CycleReport instead of aborting on error.

IDEMPOTENCE:
  Re-running a month creates nothing new: step 1 skips, and the store's
  unique key turns a lost race into ErrDuplicatePayment, which also counts
  as skipped. Concurrent calls for the same month in one process share a
  single execution.

SEE ALSO:
  - service.go: enrollment, cancellation, rest
  - credit/ledger.go: carryover consumption
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/calendar"
	"github.com/warp/tuition-engine/credit"
	"github.com/warp/tuition-engine/money"
	"github.com/warp/tuition-engine/tuition"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// StudentResult is the outcome of billing one student.
type StudentResult struct {
	TenantID  academy.TenantID
	StudentID academy.StudentID
	Outcome   Outcome
	Payment   *academy.Payment
	Err       error
}

// CycleReport folds the per-student results of one run.
type CycleReport struct {
	RunID       string
	YearMonth   calendar.YearMonth
	Created     int
	Skipped     int
	Failed      int
	Results     []StudentResult
	StartedAt   time.Time
	CompletedAt time.Time
}

// Status summarizes the run for the audit record.
func (r CycleReport) Status() academy.RunStatus {
	if r.Failed > 0 {
		return academy.RunPartial
	}
	return academy.RunCompleted
}

// Failures returns the failed results.
func (r CycleReport) Failures() []StudentResult {
	return lo.Filter(r.Results, func(res StudentResult, _ int) bool { return res.Outcome == OutcomeFailed })
}

func fold(ym calendar.YearMonth, results []StudentResult) CycleReport {
	counts := lo.CountValuesBy(results, func(r StudentResult) Outcome { return r.Outcome })
	return CycleReport{
		YearMonth: ym,
		Created:   counts[OutcomeCreated],
		Skipped:   counts[OutcomeSkipped],
		Failed:    counts[OutcomeFailed],
		Results:   results,
	}
}

// =============================================================================
// GENERATOR
// =============================================================================

// Generator runs the monthly billing batch.
type Generator struct {
	store  academy.TxStore
	ledger *credit.Ledger
	log    *zap.Logger
	runs   singleflight.Group

	// DefaultDueDay applies when neither student nor tenant sets one.
	DefaultDueDay int
	Now           func() time.Time
}

func NewGenerator(store academy.TxStore, ledger *credit.Ledger, log *zap.Logger) *Generator {
	return &Generator{
		store:         store,
		ledger:        ledger,
		log:           log.Named("billing"),
		DefaultDueDay: academy.DefaultDueDay,
		Now:           time.Now,
	}
}

// RunMonthlyBillingCycle bills every billable student of every tenant for ym.
// The returned error is set only when the run could not proceed at all
// (tenant listing failed or ctx was cancelled); per-student failures are in
// the report.
func (g *Generator) RunMonthlyBillingCycle(ctx context.Context, ym calendar.YearMonth) (CycleReport, error) {
	v, err, _ := g.runs.Do(ym.String(), func() (any, error) {
		return g.run(ctx, ym)
	})
	report, _ := v.(CycleReport)
	return report, err
}

func (g *Generator) run(ctx context.Context, ym calendar.YearMonth) (CycleReport, error) {
	log := g.log.With(zap.String("year_month", ym.String()))
	started := g.Now()
	log.Info("billing cycle started")

	tenants, err := g.store.ListTenants(ctx)
	if err != nil {
		err = academy.Dependency("list tenants", err)
		report := CycleReport{RunID: uuid.NewString(), YearMonth: ym, StartedAt: started, CompletedAt: g.Now()}
		g.record(ctx, report, academy.RunFailed, err)
		log.Error("billing cycle aborted", zap.Error(err))
		return report, err
	}

	var results []StudentResult
	var runErr error
	for _, tenant := range tenants {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		results = append(results, g.billTenant(ctx, tenant, ym)...)
	}

	report := fold(ym, results)
	report.RunID = uuid.NewString()
	report.StartedAt = started
	report.CompletedAt = g.Now()

	status := report.Status()
	if runErr != nil {
		status = academy.RunFailed
	}
	g.record(ctx, report, status, runErr)

	log.Info("billing cycle completed",
		zap.String("run_id", report.RunID),
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", report.CompletedAt.Sub(started)),
	)
	return report, runErr
}

func (g *Generator) billTenant(ctx context.Context, tenant academy.Tenant, ym calendar.YearMonth) []StudentResult {
	log := g.log.With(zap.String("tenant_id", string(tenant.ID)), zap.String("year_month", ym.String()))

	students, err := g.store.ListBillableStudents(ctx, tenant.ID)
	if err != nil {
		err = academy.Dependency("list students", err)
		log.Warn("could not list students", zap.Error(err))
		return []StudentResult{{TenantID: tenant.ID, Outcome: OutcomeFailed, Err: err}}
	}

	results := make([]StudentResult, 0, len(students))
	for _, st := range students {
		if ctx.Err() != nil {
			break
		}
		res := g.billStudent(ctx, tenant, st, ym)
		if res.Err != nil {
			log.Warn("billing failed for student",
				zap.String("student_id", string(st.ID)),
				zap.Error(res.Err),
			)
		}
		results = append(results, res)
	}
	return results
}

// billStudent creates the student's monthly payment in one transaction while
// holding the student's credit lock.
func (g *Generator) billStudent(ctx context.Context, tenant academy.Tenant, st academy.Student, ym calendar.YearMonth) StudentResult {
	res := StudentResult{TenantID: tenant.ID, StudentID: st.ID}

	var payment *academy.Payment
	var exists bool
	err := g.ledger.Serialize(tenant.ID, st.ID, func() error {
		return g.store.WithTx(ctx, func(tx academy.Store) error {
			payment, exists = nil, false

			var err error
			exists, err = tx.MonthlyPaymentExists(ctx, tenant.ID, st.ID, ym)
			if err != nil {
				return academy.Dependency("check monthly payment", err)
			}
			if exists {
				return nil
			}

			p, err := g.buildPayment(ctx, tx, tenant, st, ym)
			if err != nil {
				return err
			}
			if err := tx.CreatePayment(ctx, p); err != nil {
				return academy.Dependency("create payment", err)
			}
			payment = &p
			return nil
		})
	})

	switch {
	case errors.Is(err, academy.ErrDuplicatePayment):
		res.Outcome = OutcomeSkipped
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Err = err
	case exists:
		res.Outcome = OutcomeSkipped
	default:
		res.Outcome = OutcomeCreated
		res.Payment = payment
	}
	return res
}

func (g *Generator) buildPayment(ctx context.Context, tx academy.Store, tenant academy.Tenant, st academy.Student, ym calendar.YearMonth) (academy.Payment, error) {
	if !money.ValidPercent(st.DiscountRate) {
		return academy.Payment{}, &academy.ValidationError{Field: "discount_rate", Reason: "must be within 0-100"}
	}

	base := st.MonthlyTuition
	discount := money.PercentOf(base, st.DiscountRate).FloorToThousand()

	additional, note, err := g.nonSeasonTopUp(ctx, tx, st, ym)
	if err != nil {
		return academy.Payment{}, err
	}

	due := base - discount + additional
	app, err := g.ledger.Consume(ctx, tx, tenant.ID, st.ID, due)
	if err != nil {
		return academy.Payment{}, err
	}

	desc := fmt.Sprintf("%s monthly tuition", ym)
	if note != "" {
		desc += "; " + note
	}
	if app.Applied > 0 {
		desc += fmt.Sprintf("; rest credit %s applied", app.Applied)
	}

	return academy.Payment{
		ID:               academy.PaymentID(uuid.NewString()),
		TenantID:         tenant.ID,
		StudentID:        st.ID,
		YearMonth:        ym,
		ChargeType:       academy.ChargeMonthly,
		BaseAmount:       base,
		DiscountAmount:   discount,
		AdditionalAmount: additional,
		CarryoverAmount:  app.Applied,
		FinalAmount:      (due - app.Applied).FloorToThousand(),
		CreditID:         app.CreditID,
		DueDate:          ym.ClampDay(g.dueDay(tenant, st)),
		Status:           academy.PaymentPending,
		Description:      desc,
		CreatedAt:        g.Now(),
	}, nil
}

// nonSeasonTopUp returns the pro-rated charge for next month's non-season
// days when one of the student's live enrollments is in a season whose
// non-season end falls in the month after ym, before the season starts.
func (g *Generator) nonSeasonTopUp(ctx context.Context, tx academy.Store, st academy.Student, ym calendar.YearMonth) (money.Amount, string, error) {
	enrollments, err := tx.ListStudentEnrollments(ctx, st.TenantID, st.ID)
	if err != nil {
		return 0, "", academy.Dependency("list enrollments", err)
	}

	next := ym.Next()
	for _, e := range enrollments {
		if e.Status == academy.EnrollmentCancelled {
			continue
		}
		season, err := tx.GetSeason(ctx, st.TenantID, e.SeasonID)
		if err != nil {
			return 0, "", academy.Dependency("load season", err)
		}
		end := season.NonSeasonEnd
		if end.IsZero() || end.YearMonth() != next || !end.Before(season.Start) {
			continue
		}
		pr, err := tuition.ProRate(tuition.ProrationInput{
			MonthlyFee:   st.MonthlyTuition,
			Weekdays:     st.Weekdays,
			PeriodEnd:    end,
			DiscountRate: st.DiscountRate,
		})
		if err != nil {
			return 0, "", err
		}
		return pr.Amount, fmt.Sprintf("%s pro-rated through %s (%d/%d classes)", next, end, pr.ClassesCounted, pr.TotalClasses), nil
	}
	return 0, "", nil
}

func (g *Generator) dueDay(tenant academy.Tenant, st academy.Student) int {
	for _, d := range []int{st.DueDay, tenant.DefaultDueDay, g.DefaultDueDay} {
		if d > 0 {
			return d
		}
	}
	return academy.DefaultDueDay
}

func (g *Generator) record(ctx context.Context, report CycleReport, status academy.RunStatus, runErr error) {
	run := academy.BillingRun{
		ID:          report.RunID,
		YearMonth:   report.YearMonth,
		Status:      status,
		Created:     report.Created,
		Skipped:     report.Skipped,
		Failed:      report.Failed,
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	// The run record must be written even when ctx was cancelled mid-run.
	if err := g.store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		g.log.Warn("could not record billing run", zap.String("run_id", run.ID), zap.Error(err))
	}
}
