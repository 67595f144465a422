package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/calendar"
	"github.com/warp/tuition-engine/credit"
	"github.com/warp/tuition-engine/money"
	"github.com/warp/tuition-engine/tuition"
)

// seasonPaymentGrace is how long after registration a season fee is due,
// unless the season starts first.
const seasonPaymentGrace = 7

// =============================================================================
// SERVICE - Interactive operations, each one atomic
// =============================================================================

// Service runs the interactive season and rest operations. Every mutating
// method commits all of its writes or none of them.
type Service struct {
	store  academy.TxStore
	ledger *credit.Ledger
	log    *zap.Logger

	Now func() time.Time
}

func NewService(store academy.TxStore, ledger *credit.Ledger, log *zap.Logger) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		log:    log.Named("season"),
		Now:    time.Now,
	}
}

func (s *Service) today() calendar.Date { return calendar.DateOf(s.Now()) }

// ===== Enrollment =====

type EnrollRequest struct {
	TenantID         academy.TenantID
	StudentID        academy.StudentID
	SeasonID         academy.SeasonID
	SeasonFee        *money.Amount // nil = season default fee
	RegistrationDate calendar.Date // zero = today
	Continuous       bool
	PreviousSeasonID academy.SeasonID
}

type EnrollResult struct {
	Enrollment academy.SeasonEnrollment
	Payment    academy.Payment
	Proration  tuition.ProrationResult
	MidSeason  *tuition.MidSeasonResult
}

// Enroll joins a student to a season. It stores the non-season pro-ration
// snapshot, applies mid-season and continuation discounts, creates the season
// payment and points the student at the season.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (EnrollResult, error) {
	if req.SeasonFee != nil && req.SeasonFee.IsNegative() {
		return EnrollResult{}, &academy.ValidationError{Field: "season_fee", Reason: "must not be negative"}
	}
	reg := req.RegistrationDate
	if reg.IsZero() {
		reg = s.today()
	}

	var out EnrollResult
	err := s.store.WithTx(ctx, func(tx academy.Store) error {
		season, err := tx.GetSeason(ctx, req.TenantID, req.SeasonID)
		if err != nil {
			return academy.Dependency("load season", err)
		}
		if err := season.Validate(); err != nil {
			return err
		}
		student, err := tx.GetStudent(ctx, req.TenantID, req.StudentID)
		if err != nil {
			return academy.Dependency("load student", err)
		}
		if student.Status == academy.StudentWithdrawn || student.Status == academy.StudentGraduated {
			return &academy.StateError{Entity: "student", ID: string(student.ID), State: string(student.Status), Op: "enroll"}
		}

		existing, err := tx.ListStudentEnrollments(ctx, req.TenantID, req.StudentID)
		if err != nil {
			return academy.Dependency("list enrollments", err)
		}
		for _, e := range existing {
			if e.SeasonID == season.ID && e.Status != academy.EnrollmentCancelled {
				return &academy.StateError{Entity: "student", ID: string(student.ID), State: "enrolled", Op: "enroll", Err: academy.ErrAlreadyEnrolled}
			}
		}

		pr, err := tuition.ProRate(tuition.ProrationInput{
			MonthlyFee:   student.MonthlyTuition,
			Weekdays:     student.Weekdays,
			PeriodEnd:    season.NonSeasonEnd,
			DiscountRate: student.DiscountRate,
		})
		if err != nil {
			return err
		}

		listFee := season.DefaultFee
		if req.SeasonFee != nil {
			listFee = *req.SeasonFee
		}
		fee := listFee
		var mid *tuition.MidSeasonResult
		if reg.After(season.Start) {
			m, err := tuition.MidSeasonJoin(tuition.MidSeasonInput{
				SeasonFee:   fee,
				SeasonStart: season.Start,
				SeasonEnd:   season.End,
				JoinDate:    reg,
				Weekdays:    season.Weekdays,
			})
			if err != nil {
				return err
			}
			mid, fee = &m, m.ProratedFee
		}

		continuous := req.Continuous && req.PreviousSeasonID != ""
		discount, charged, err := tuition.ContinuationDiscount(fee, season.Continuation, continuous)
		if err != nil {
			return err
		}
		discountType := academy.ContinuationNone
		if continuous && season.Continuation.Type != "" {
			discountType = season.Continuation.Type
		}

		details, err := json.Marshal(pr)
		if err != nil {
			return fmt.Errorf("encode proration: %w", err)
		}

		now := s.Now()
		enrollment := academy.SeasonEnrollment{
			ID:               academy.EnrollmentID(uuid.NewString()),
			TenantID:         req.TenantID,
			StudentID:        student.ID,
			SeasonID:         season.ID,
			RegistrationDate: reg,
			SeasonFee:        charged,
			DiscountType:     discountType,
			DiscountAmount:   discount,
			Continuous:       continuous,
			PreviousSeasonID: req.PreviousSeasonID,
			ProratedMonth:    season.NonSeasonEnd.YearMonth(),
			ProratedAmount:   pr.Amount,
			ProrationDetails: details,
			Status:           academy.EnrollmentPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.CreateEnrollment(ctx, enrollment); err != nil {
			return academy.Dependency("create enrollment", err)
		}

		student.CurrentSeasonID = season.ID
		if err := tx.SaveStudent(ctx, student); err != nil {
			return academy.Dependency("update student", err)
		}

		totalDiscount := discount
		desc := season.Name + " season fee"
		if mid != nil && mid.IsProrated {
			totalDiscount += mid.Discount
			desc += " (joined mid-season: " + mid.Details + ")"
		}
		payment := academy.Payment{
			ID:             academy.PaymentID(uuid.NewString()),
			TenantID:       req.TenantID,
			StudentID:      student.ID,
			YearMonth:      reg.YearMonth(),
			ChargeType:     academy.ChargeSeason,
			BaseAmount:     listFee,
			DiscountAmount: totalDiscount,
			FinalAmount:    charged,
			DueDate:        calendar.MinDate(reg.AddDays(seasonPaymentGrace), season.Start),
			Status:         academy.PaymentPending,
			Description:    desc,
			CreatedAt:      now,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return academy.Dependency("create season payment", err)
		}

		out = EnrollResult{Enrollment: enrollment, Payment: payment, Proration: pr, MidSeason: mid}
		return nil
	})
	if err != nil {
		return EnrollResult{}, err
	}

	s.log.Info("student enrolled",
		zap.String("tenant_id", string(req.TenantID)),
		zap.String("student_id", string(req.StudentID)),
		zap.String("season_id", string(req.SeasonID)),
		zap.Int64("season_fee", int64(out.Enrollment.SeasonFee)),
	)
	return out, nil
}

// ===== Payment =====

// MarkEnrollmentPaid records receipt of the season fee.
func (s *Service) MarkEnrollmentPaid(ctx context.Context, tenantID academy.TenantID, id academy.EnrollmentID) (academy.SeasonEnrollment, error) {
	var out academy.SeasonEnrollment
	err := s.store.WithTx(ctx, func(tx academy.Store) error {
		e, err := tx.GetEnrollment(ctx, tenantID, id)
		if err != nil {
			return academy.Dependency("load enrollment", err)
		}
		if e.Status != academy.EnrollmentPending {
			return &academy.StateError{Entity: "enrollment", ID: string(id), State: string(e.Status), Op: "pay"}
		}
		now := s.Now()
		e.Status = academy.EnrollmentPaid
		e.PaidAt = &now
		e.UpdatedAt = now
		if err := tx.UpdateEnrollment(ctx, e); err != nil {
			return academy.Dependency("update enrollment", err)
		}
		out = e
		return nil
	})
	return out, err
}

// ===== Cancellation =====

type CancelRequest struct {
	TenantID         academy.TenantID
	EnrollmentID     academy.EnrollmentID
	CancellationDate calendar.Date // zero = today
	Policy           tuition.RefundPolicy
}

type CancelResult struct {
	Enrollment academy.SeasonEnrollment
	Refund     tuition.RefundResult
	Expense    *academy.Expense
}

// Cancel ends a season enrollment and computes its refund. Cancellation is
// terminal. A refund expense is recorded only when the fee had been paid.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (CancelResult, error) {
	policy, err := tuition.ParseRefundPolicy(string(req.Policy))
	if err != nil {
		return CancelResult{}, err
	}
	date := req.CancellationDate
	if date.IsZero() {
		date = s.today()
	}

	var out CancelResult
	err = s.store.WithTx(ctx, func(tx academy.Store) error {
		e, err := tx.GetEnrollment(ctx, req.TenantID, req.EnrollmentID)
		if err != nil {
			return academy.Dependency("load enrollment", err)
		}
		if e.Status == academy.EnrollmentCancelled {
			return &academy.StateError{
				Entity: "enrollment", ID: string(e.ID), State: string(e.Status), Op: "cancel",
				Err: academy.ErrAlreadyCancelled,
			}
		}
		season, err := tx.GetSeason(ctx, req.TenantID, e.SeasonID)
		if err != nil {
			return academy.Dependency("load season", err)
		}
		student, err := tx.GetStudent(ctx, req.TenantID, e.StudentID)
		if err != nil {
			return academy.Dependency("load student", err)
		}

		days := student.Weekdays
		if days.IsEmpty() {
			days = season.Weekdays
		}
		refund, err := tuition.SeasonRefund(tuition.RefundInput{
			SeasonFee:        e.SeasonFee,
			SeasonStart:      season.Start,
			SeasonEnd:        season.End,
			CancellationDate: date,
			Weekdays:         days,
			Policy:           policy,
		})
		if err != nil {
			return err
		}
		snapshot, err := json.Marshal(refund)
		if err != nil {
			return fmt.Errorf("encode refund: %w", err)
		}

		wasPaid := e.Status == academy.EnrollmentPaid
		now := s.Now()
		e.Status = academy.EnrollmentCancelled
		e.CancellationDate = date
		e.RefundAmount = refund.RefundAmount
		e.RefundCalculation = snapshot
		e.UpdatedAt = now
		if err := tx.UpdateEnrollment(ctx, e); err != nil {
			return academy.Dependency("update enrollment", err)
		}

		if student.CurrentSeasonID == e.SeasonID {
			student.CurrentSeasonID = ""
			if err := tx.SaveStudent(ctx, student); err != nil {
				return academy.Dependency("update student", err)
			}
		}

		out = CancelResult{Enrollment: e, Refund: refund}
		if wasPaid && refund.RefundAmount.IsPositive() {
			exp := academy.Expense{
				ID:          academy.ExpenseID(uuid.NewString()),
				TenantID:    req.TenantID,
				Category:    academy.ExpenseCategoryRefund,
				Amount:      refund.RefundAmount,
				ExpenseDate: date,
				Description: fmt.Sprintf("season refund - %s (%s)", student.Name, season.Name),
				CreatedAt:   now,
			}
			if err := tx.CreateExpense(ctx, exp); err != nil {
				return academy.Dependency("create refund expense", err)
			}
			out.Expense = &exp
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	s.log.Info("enrollment cancelled",
		zap.String("tenant_id", string(req.TenantID)),
		zap.String("enrollment_id", string(req.EnrollmentID)),
		zap.String("policy", string(policy)),
		zap.Int64("refund", int64(out.Refund.RefundAmount)),
	)
	return out, nil
}

// ===== Preview =====

type SeasonPreview struct {
	Transition tuition.TransitionPreview `json:"transition"`
	MidSeason  *tuition.MidSeasonResult  `json:"mid_season,omitempty"`
}

// PreviewSeason shows what enrolling the student on asOf would charge,
// without writing anything. A zero asOf means today.
func (s *Service) PreviewSeason(ctx context.Context, tenantID academy.TenantID, seasonID academy.SeasonID, studentID academy.StudentID, asOf calendar.Date) (SeasonPreview, error) {
	season, err := s.store.GetSeason(ctx, tenantID, seasonID)
	if err != nil {
		return SeasonPreview{}, academy.Dependency("load season", err)
	}
	student, err := s.store.GetStudent(ctx, tenantID, studentID)
	if err != nil {
		return SeasonPreview{}, academy.Dependency("load student", err)
	}
	transition, err := tuition.PreviewTransition(student, season)
	if err != nil {
		return SeasonPreview{}, err
	}

	out := SeasonPreview{Transition: transition}
	if asOf.IsZero() {
		asOf = s.today()
	}
	if asOf.After(season.Start) {
		m, err := tuition.MidSeasonJoin(tuition.MidSeasonInput{
			SeasonFee:   season.DefaultFee,
			SeasonStart: season.Start,
			SeasonEnd:   season.End,
			JoinDate:    asOf,
			Weekdays:    season.Weekdays,
		})
		if err != nil {
			return SeasonPreview{}, err
		}
		out.MidSeason = &m
	}
	return out, nil
}

// ===== Rest =====

type PauseRequest struct {
	TenantID   academy.TenantID
	StudentID  academy.StudentID
	RestStart  calendar.Date
	RestEnd    calendar.Date
	CreditType academy.CreditType
	Reason     string
}

type PauseResult struct {
	Student     academy.Student
	Credit      *academy.RestCredit
	Calculation tuition.RestCreditResult
}

// Pause moves an active student to paused and issues the rest credit for the
// pause. No credit is issued when it would round down to zero.
func (s *Service) Pause(ctx context.Context, req PauseRequest) (PauseResult, error) {
	var out PauseResult
	err := s.ledger.Serialize(req.TenantID, req.StudentID, func() error {
		return s.store.WithTx(ctx, func(tx academy.Store) error {
			student, err := tx.GetStudent(ctx, req.TenantID, req.StudentID)
			if err != nil {
				return academy.Dependency("load student", err)
			}
			if student.Status != academy.StudentActive {
				return &academy.StateError{Entity: "student", ID: string(student.ID), State: string(student.Status), Op: "pause"}
			}

			c, calc, err := s.ledger.Issue(ctx, tx, credit.IssueRequest{
				TenantID:   req.TenantID,
				StudentID:  req.StudentID,
				MonthlyFee: student.MonthlyTuition,
				RestStart:  req.RestStart,
				RestEnd:    req.RestEnd,
				Type:       req.CreditType,
				Reason:     req.Reason,
			})
			if err != nil {
				return err
			}

			student.Status = academy.StudentPaused
			if err := tx.SaveStudent(ctx, student); err != nil {
				return academy.Dependency("update student", err)
			}
			out = PauseResult{Student: student, Credit: c, Calculation: calc}
			return nil
		})
	})
	if err != nil {
		return PauseResult{}, err
	}

	fields := []zap.Field{
		zap.String("tenant_id", string(req.TenantID)),
		zap.String("student_id", string(req.StudentID)),
		zap.Int("rest_days", out.Calculation.RestDays),
	}
	if out.Credit != nil {
		fields = append(fields, zap.String("credit_id", string(out.Credit.ID)), zap.Int64("credit", int64(out.Credit.CreditAmount)))
	}
	s.log.Info("student paused", fields...)
	return out, nil
}

// Resume moves a paused student back to active.
func (s *Service) Resume(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID) (academy.Student, error) {
	var out academy.Student
	err := s.store.WithTx(ctx, func(tx academy.Store) error {
		student, err := tx.GetStudent(ctx, tenantID, studentID)
		if err != nil {
			return academy.Dependency("load student", err)
		}
		if student.Status != academy.StudentPaused {
			return &academy.StateError{Entity: "student", ID: string(student.ID), State: string(student.Status), Op: "resume"}
		}
		student.Status = academy.StudentActive
		if err := tx.SaveStudent(ctx, student); err != nil {
			return academy.Dependency("update student", err)
		}
		out = student
		return nil
	})
	return out, err
}

// ===== Credits =====

// AdjustCredit reduces an open credit by hand.
func (s *Service) AdjustCredit(ctx context.Context, tenantID academy.TenantID, id academy.CreditID, amount money.Amount) (academy.RestCredit, error) {
	return s.ledger.Adjust(ctx, s.store, tenantID, id, amount)
}

// CancelCredit cancels an open credit.
func (s *Service) CancelCredit(ctx context.Context, tenantID academy.TenantID, id academy.CreditID) (academy.RestCredit, error) {
	return s.ledger.Cancel(ctx, s.store, tenantID, id)
}

// Credits lists a student's credits, oldest first.
func (s *Service) Credits(ctx context.Context, tenantID academy.TenantID, studentID academy.StudentID) ([]academy.RestCredit, error) {
	out, err := s.store.ListCredits(ctx, tenantID, studentID)
	return out, academy.Dependency("list credits", err)
}
