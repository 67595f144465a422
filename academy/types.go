/*
Package academy defines the billing engine's data model and the repository
interfaces it reads and writes through.

PURPOSE:
  The engine does not own students or seasons; it reads them from directories
  kept by the surrounding academy system, and it writes payments, season
  enrollments and rest credits. This package describes those records and the
  narrow interfaces the engine needs, so calculators and orchestration never
  depend on a concrete database.

KEY CONCEPTS IN THIS FILE (types.go):
  - Student:          A billable party (rate, discount, class days, due day)
  - Season:           A seasonal program replacing regular monthly billing
  - SeasonEnrollment: Student x Season join with its fee and refund snapshot
  - RestCredit:       Credit earned by pausing, consumed by later bills
  - Payment:          One charge per (student, year-month, charge type)

AMOUNTS:
  Every computed amount persisted through these types is a multiple of 1,000
  (see money.FloorToThousand). Raw user-entered amounts, such as a student's
  monthly tuition, are stored as entered.

SEE ALSO:
  - errors.go: Error taxonomy (validation, state, dependency)
  - store.go:  Repository interfaces
*/
package academy

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/tuition-engine/calendar"
	"github.com/warp/tuition-engine/money"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type StudentID string
type SeasonID string
type EnrollmentID string
type PaymentID string
type CreditID string
type ExpenseID string

// DefaultDueDay is the payment due day used when neither the student nor the
// tenant configures one.
const DefaultDueDay = 5

// =============================================================================
// TENANT
// =============================================================================

// Tenant is one academy. Billing runs iterate every tenant.
type Tenant struct {
	ID            TenantID
	Name          string
	DefaultDueDay int
}

// DueDay returns the tenant's configured due day or DefaultDueDay.
func (t Tenant) DueDay() int {
	if t.DefaultDueDay > 0 {
		return t.DefaultDueDay
	}
	return DefaultDueDay
}

// =============================================================================
// STUDENT
// =============================================================================

type StudentStatus string

const (
	StudentActive    StudentStatus = "active"
	StudentPaused    StudentStatus = "paused"
	StudentWithdrawn StudentStatus = "withdrawn"
	StudentGraduated StudentStatus = "graduated"
)

// Student is read-only for the billing core except for status and the
// current season pointer, which enrollment, cancellation and rest update.
type Student struct {
	ID              StudentID
	TenantID        TenantID
	Name            string
	MonthlyTuition  money.Amount
	DiscountRate    decimal.Decimal // percent, 0-100
	Weekdays        calendar.WeekdaySet
	DueDay          int // 0 = tenant default
	Status          StudentStatus
	CurrentSeasonID SeasonID
}

// IsBillable reports whether the monthly batch charges this student.
func (s Student) IsBillable() bool {
	return s.Status == StudentActive && s.MonthlyTuition.IsPositive()
}

// =============================================================================
// SEASON
// =============================================================================

type ContinuationDiscountType string

const (
	ContinuationNone ContinuationDiscountType = "none"
	ContinuationFree ContinuationDiscountType = "free"
	ContinuationRate ContinuationDiscountType = "rate"
)

// ContinuationDiscount applies to students enrolling again right after a
// previous season.
type ContinuationDiscount struct {
	Type ContinuationDiscountType
	Rate decimal.Decimal // percent, used when Type is rate
}

// Season is a billing-regime interval. Invariant: NonSeasonEnd < Start < End.
type Season struct {
	ID           SeasonID
	TenantID     TenantID
	Name         string
	Start        calendar.Date
	End          calendar.Date // inclusive
	NonSeasonEnd calendar.Date // last day of regular billing before the season
	Weekdays     calendar.WeekdaySet
	DefaultFee   money.Amount
	Continuation ContinuationDiscount
}

// Validate checks the date invariant.
func (s Season) Validate() error {
	switch {
	case s.Start.IsZero() || s.End.IsZero() || s.NonSeasonEnd.IsZero():
		return &ValidationError{Field: "season", Reason: "start, end and non-season end dates are required"}
	case !s.NonSeasonEnd.Before(s.Start):
		return &ValidationError{Field: "non_season_end_date", Reason: "must be before season start"}
	case !s.Start.Before(s.End):
		return &ValidationError{Field: "season_end_date", Reason: "must be after season start"}
	case s.DefaultFee.IsNegative():
		return &ValidationError{Field: "default_season_fee", Reason: "must not be negative"}
	case s.Continuation.Type == ContinuationRate && !money.ValidPercent(s.Continuation.Rate):
		return &ValidationError{Field: "continuous_discount_rate", Reason: "must be within 0-100"}
	}
	return nil
}

// Period returns the season as an inclusive period.
func (s Season) Period() calendar.Period { return calendar.Period{Start: s.Start, End: s.End} }

// =============================================================================
// SEASON ENROLLMENT
// =============================================================================

type EnrollmentStatus string

const (
	EnrollmentPending   EnrollmentStatus = "pending"
	EnrollmentPaid      EnrollmentStatus = "paid"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// SeasonEnrollment joins a student to a season. Cancellation is terminal.
type SeasonEnrollment struct {
	ID               EnrollmentID
	TenantID         TenantID
	StudentID        StudentID
	SeasonID         SeasonID
	RegistrationDate calendar.Date
	SeasonFee        money.Amount // charged fee, after mid-season and continuation adjustments
	DiscountType     ContinuationDiscountType
	DiscountAmount   money.Amount
	Continuous       bool
	PreviousSeasonID SeasonID

	// Non-season pro-ration for the month containing the season's
	// NonSeasonEnd, with its breakdown kept for dispute resolution.
	ProratedMonth    calendar.YearMonth
	ProratedAmount   money.Amount
	ProrationDetails json.RawMessage

	Status            EnrollmentStatus
	PaidAt            *time.Time
	CancellationDate  calendar.Date
	RefundAmount      money.Amount
	RefundCalculation json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// REST CREDIT
// =============================================================================

type CreditType string

const (
	// CreditCarryover is applied against future monthly bills.
	CreditCarryover CreditType = "carryover"
	// CreditRefund is paid out directly and never consumed by billing.
	CreditRefund CreditType = "refund"
)

type CreditStatus string

const (
	CreditPending   CreditStatus = "pending"
	CreditPartial   CreditStatus = "partial"
	CreditApplied   CreditStatus = "applied"
	CreditCancelled CreditStatus = "cancelled"
)

// IsOpen reports whether the credit can still be consumed or adjusted.
func (s CreditStatus) IsOpen() bool { return s == CreditPending || s == CreditPartial }

// RestCredit is a ledger entry created when a student pauses.
//
// INVARIANTS:
//   - CreditAmount is computed once and never changes.
//   - RemainingAmount never increases and never goes below zero.
//   - Status reaches applied exactly when RemainingAmount reaches zero.
//   - Version increments on every write (optimistic concurrency).
type RestCredit struct {
	ID              CreditID
	TenantID        TenantID
	StudentID       StudentID
	Type            CreditType
	RestStart       calendar.Date
	RestEnd         calendar.Date
	RestDays        int
	CreditAmount    money.Amount
	RemainingAmount money.Amount
	Status          CreditStatus
	Reason          string
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// =============================================================================
// PAYMENT
// =============================================================================

type ChargeType string

const (
	ChargeMonthly ChargeType = "monthly"
	ChargeSeason  ChargeType = "season"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPartial   PaymentStatus = "partial"
	PaymentPaid      PaymentStatus = "paid"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Payment is one billing-cycle charge. At most one monthly Payment exists per
// (student, year-month).
//
//	FinalAmount = floor1000(Base - Discount + Additional - Carryover)
type Payment struct {
	ID               PaymentID
	TenantID         TenantID
	StudentID        StudentID
	YearMonth        calendar.YearMonth
	ChargeType       ChargeType
	BaseAmount       money.Amount
	DiscountAmount   money.Amount
	AdditionalAmount money.Amount // non-season-end pro-rated top-up
	CarryoverAmount  money.Amount // rest credit applied
	FinalAmount      money.Amount
	CreditID         CreditID // credit consumed, if any
	DueDate          calendar.Date
	Status           PaymentStatus
	Description      string
	CreatedAt        time.Time
}

// =============================================================================
// EXPENSE
// =============================================================================

const ExpenseCategoryRefund = "refund"

// Expense records money paid out by the academy, e.g. a season refund.
type Expense struct {
	ID          ExpenseID
	TenantID    TenantID
	Category    string
	Amount      money.Amount
	ExpenseDate calendar.Date
	Description string
	CreatedAt   time.Time
}

// =============================================================================
// BILLING RUN - Audit record of one batch execution
// =============================================================================

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial" // finished with per-student failures
	RunFailed    RunStatus = "failed"
)

// BillingRun summarizes one execution of the monthly batch.
type BillingRun struct {
	ID          string
	YearMonth   calendar.YearMonth
	Status      RunStatus
	Created     int
	Skipped     int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}
