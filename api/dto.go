/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the academy model (which carries no JSON tags) from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Directory:   TenantRequest, StudentRequest, SeasonRequest (+ DTOs)
  Calculators: ProrateRequest, MidSeasonRequest, RefundRequest, RestCreditRequest
  Seasons:     EnrollRequest, CancelEnrollmentRequest, EnrollmentDTO
  Rest:        PauseRequest, AdjustCreditRequest, CreditDTO
  Billing:     RunBillingRequest, CycleReportDTO, BillingRunDTO, PaymentDTO

VALIDATION:
  Request types carry go-playground/validator tags, checked by
  Handler.decode. Dates travel as YYYY-MM-DD strings ("date" rule) and
  months as YYYY-MM ("yearmonth" rule). Business rules (discount range,
  date ordering) stay in the calculators.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/calendar"
)

// =============================================================================
// DIRECTORY
// =============================================================================

type TenantRequest struct {
	Name          string `json:"name" validate:"required"`
	DefaultDueDay int    `json:"default_due_day" validate:"gte=0,lte=31"`
}

type TenantDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DefaultDueDay int    `json:"default_due_day"`
}

type StudentRequest struct {
	Name           string              `json:"name" validate:"required"`
	MonthlyTuition int64               `json:"monthly_tuition" validate:"gte=0"`
	DiscountRate   decimal.Decimal     `json:"discount_rate"`
	Weekdays       calendar.WeekdaySet `json:"weekdays"`
	DueDay         int                 `json:"due_day" validate:"gte=0,lte=31"`
	Status         string              `json:"status" validate:"omitempty,oneof=active paused withdrawn graduated"`
}

type StudentDTO struct {
	ID              string              `json:"id"`
	TenantID        string              `json:"tenant_id"`
	Name            string              `json:"name"`
	MonthlyTuition  int64               `json:"monthly_tuition"`
	DiscountRate    decimal.Decimal     `json:"discount_rate"`
	Weekdays        calendar.WeekdaySet `json:"weekdays"`
	WeeklySchedule  string              `json:"weekly_schedule"`
	DueDay          int                 `json:"due_day,omitempty"`
	Status          string              `json:"status"`
	CurrentSeasonID string              `json:"current_season_id,omitempty"`
}

type SeasonRequest struct {
	Name                   string              `json:"name" validate:"required"`
	StartDate              string              `json:"start_date" validate:"required,date"`
	EndDate                string              `json:"end_date" validate:"required,date"`
	NonSeasonEndDate       string              `json:"non_season_end_date" validate:"required,date"`
	Weekdays               calendar.WeekdaySet `json:"operating_days"`
	DefaultFee             int64               `json:"default_season_fee" validate:"gte=0"`
	ContinuousDiscountType string              `json:"continuous_discount_type" validate:"omitempty,oneof=none free rate"`
	ContinuousDiscountRate decimal.Decimal     `json:"continuous_discount_rate"`
}

type SeasonDTO struct {
	ID                     string              `json:"id"`
	TenantID               string              `json:"tenant_id"`
	Name                   string              `json:"name"`
	StartDate              calendar.Date       `json:"start_date"`
	EndDate                calendar.Date       `json:"end_date"`
	NonSeasonEndDate       calendar.Date       `json:"non_season_end_date"`
	Weekdays               calendar.WeekdaySet `json:"operating_days"`
	DefaultFee             int64               `json:"default_season_fee"`
	ContinuousDiscountType string              `json:"continuous_discount_type,omitempty"`
	ContinuousDiscountRate decimal.Decimal     `json:"continuous_discount_rate"`
}

// =============================================================================
// CALCULATORS
// =============================================================================

// ProrateRequest pro-rates one calendar month. Without period_start the
// charge runs from the 1st to period_end.
type ProrateRequest struct {
	MonthlyFee   int64               `json:"monthly_fee" validate:"gte=0"`
	Weekdays     calendar.WeekdaySet `json:"weekdays"`
	PeriodStart  string              `json:"period_start" validate:"omitempty,date"`
	PeriodEnd    string              `json:"period_end" validate:"required,date"`
	DiscountRate decimal.Decimal     `json:"discount_rate"`
}

type MidSeasonRequest struct {
	SeasonFee   int64               `json:"season_fee" validate:"gte=0"`
	SeasonStart string              `json:"season_start" validate:"required,date"`
	SeasonEnd   string              `json:"season_end" validate:"required,date"`
	JoinDate    string              `json:"join_date" validate:"required,date"`
	Weekdays    calendar.WeekdaySet `json:"weekdays"`
}

type RefundRequest struct {
	SeasonFee        int64               `json:"season_fee" validate:"gte=0"`
	SeasonStart      string              `json:"season_start" validate:"required,date"`
	SeasonEnd        string              `json:"season_end" validate:"required,date"`
	CancellationDate string              `json:"cancellation_date" validate:"required,date"`
	Weekdays         calendar.WeekdaySet `json:"weekdays"`
	Policy           string              `json:"refund_policy" validate:"omitempty,oneof=legal prorated"`
}

type RestCreditRequest struct {
	MonthlyFee int64  `json:"monthly_fee" validate:"gte=0"`
	RestStart  string `json:"rest_start_date" validate:"required,date"`
	RestEnd    string `json:"rest_end_date" validate:"required,date"`
}

// =============================================================================
// SEASON ENROLLMENT
// =============================================================================

type EnrollRequest struct {
	StudentID        string `json:"student_id" validate:"required"`
	SeasonFee        *int64 `json:"season_fee" validate:"omitempty,gte=0"`
	RegistrationDate string `json:"registration_date" validate:"omitempty,date"`
	IsContinuous     bool   `json:"is_continuous"`
	PreviousSeasonID string `json:"previous_season_id"`
}

type CancelEnrollmentRequest struct {
	CancellationDate string `json:"cancellation_date" validate:"omitempty,date"`
	Policy           string `json:"refund_policy" validate:"omitempty,oneof=legal prorated"`
}

type EnrollmentDTO struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	StudentID         string          `json:"student_id"`
	SeasonID          string          `json:"season_id"`
	RegistrationDate  calendar.Date   `json:"registration_date"`
	SeasonFee         int64           `json:"season_fee"`
	DiscountType      string          `json:"discount_type,omitempty"`
	DiscountAmount    int64           `json:"discount_amount"`
	IsContinuous      bool            `json:"is_continuous"`
	PreviousSeasonID  string          `json:"previous_season_id,omitempty"`
	ProratedMonth     string          `json:"prorated_month,omitempty"`
	ProratedAmount    int64           `json:"prorated_amount"`
	ProrationDetails  json.RawMessage `json:"proration_details,omitempty"`
	Status            string          `json:"payment_status"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	CancellationDate  *calendar.Date  `json:"cancellation_date,omitempty"`
	RefundAmount      int64           `json:"refund_amount"`
	RefundCalculation json.RawMessage `json:"refund_calculation,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type EnrollResponse struct {
	Enrollment EnrollmentDTO `json:"enrollment"`
	Payment    PaymentDTO    `json:"payment"`
	MidSeason  any           `json:"mid_season,omitempty"`
}

type CancelResponse struct {
	Enrollment EnrollmentDTO `json:"enrollment"`
	Refund     any           `json:"refund"`
	Expense    *ExpenseDTO   `json:"expense,omitempty"`
}

// =============================================================================
// REST AND CREDITS
// =============================================================================

type PauseRequest struct {
	RestStart  string `json:"rest_start_date" validate:"required,date"`
	RestEnd    string `json:"rest_end_date" validate:"required,date"`
	CreditType string `json:"credit_type" validate:"omitempty,oneof=carryover refund"`
	Reason     string `json:"reason" validate:"max=500"`
}

type PauseResponse struct {
	Student     StudentDTO `json:"student"`
	Credit      *CreditDTO `json:"credit,omitempty"`
	Calculation any        `json:"calculation"`
}

type AdjustCreditRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

type CreditDTO struct {
	ID              string        `json:"id"`
	StudentID       string        `json:"student_id"`
	Type            string        `json:"credit_type"`
	RestStart       calendar.Date `json:"rest_start_date"`
	RestEnd         calendar.Date `json:"rest_end_date"`
	RestDays        int           `json:"rest_days"`
	CreditAmount    int64         `json:"credit_amount"`
	RemainingAmount int64         `json:"remaining_amount"`
	Status          string        `json:"status"`
	Reason          string        `json:"reason,omitempty"`
	Version         int           `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
}

// =============================================================================
// PAYMENTS, EXPENSES, BILLING RUNS
// =============================================================================

type PaymentDTO struct {
	ID               string        `json:"id"`
	StudentID        string        `json:"student_id"`
	YearMonth        string        `json:"year_month"`
	PaymentType      string        `json:"payment_type"`
	BaseAmount       int64         `json:"base_amount"`
	DiscountAmount   int64         `json:"discount_amount"`
	AdditionalAmount int64         `json:"additional_amount"`
	CarryoverAmount  int64         `json:"carryover_amount"`
	FinalAmount      int64         `json:"final_amount"`
	CreditID         string        `json:"credit_id,omitempty"`
	DueDate          calendar.Date `json:"due_date"`
	Status           string        `json:"status"`
	Description      string        `json:"description"`
	Display          string        `json:"display"`
}

type ExpenseDTO struct {
	ID          string        `json:"id"`
	Category    string        `json:"category"`
	Amount      int64         `json:"amount"`
	ExpenseDate calendar.Date `json:"expense_date"`
	Description string        `json:"description"`
}

type RunBillingRequest struct {
	YearMonth string `json:"year_month" validate:"required,yearmonth"`
}

type FailureDTO struct {
	TenantID  string `json:"tenant_id"`
	StudentID string `json:"student_id,omitempty"`
	Error     string `json:"error"`
}

type CycleReportDTO struct {
	RunID     string       `json:"run_id"`
	YearMonth string       `json:"year_month"`
	Status    string       `json:"status"`
	Created   int          `json:"created"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Failures  []FailureDTO `json:"failures"`
}

type BillingRunDTO struct {
	ID          string    `json:"id"`
	YearMonth   string    `json:"year_month"`
	Status      string    `json:"status"`
	Created     int       `json:"created"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toTenantDTO(t academy.Tenant) TenantDTO {
	return TenantDTO{ID: string(t.ID), Name: t.Name, DefaultDueDay: t.DefaultDueDay}
}

func toStudentDTO(s academy.Student) StudentDTO {
	return StudentDTO{
		ID:              string(s.ID),
		TenantID:        string(s.TenantID),
		Name:            s.Name,
		MonthlyTuition:  int64(s.MonthlyTuition),
		DiscountRate:    s.DiscountRate,
		Weekdays:        s.Weekdays,
		WeeklySchedule:  s.Weekdays.Korean(),
		DueDay:          s.DueDay,
		Status:          string(s.Status),
		CurrentSeasonID: string(s.CurrentSeasonID),
	}
}

func toSeasonDTO(s academy.Season) SeasonDTO {
	return SeasonDTO{
		ID:                     string(s.ID),
		TenantID:               string(s.TenantID),
		Name:                   s.Name,
		StartDate:              s.Start,
		EndDate:                s.End,
		NonSeasonEndDate:       s.NonSeasonEnd,
		Weekdays:               s.Weekdays,
		DefaultFee:             int64(s.DefaultFee),
		ContinuousDiscountType: string(s.Continuation.Type),
		ContinuousDiscountRate: s.Continuation.Rate,
	}
}

func toEnrollmentDTO(e academy.SeasonEnrollment) EnrollmentDTO {
	dto := EnrollmentDTO{
		ID:                string(e.ID),
		TenantID:          string(e.TenantID),
		StudentID:         string(e.StudentID),
		SeasonID:          string(e.SeasonID),
		RegistrationDate:  e.RegistrationDate,
		SeasonFee:         int64(e.SeasonFee),
		DiscountType:      string(e.DiscountType),
		DiscountAmount:    int64(e.DiscountAmount),
		IsContinuous:      e.Continuous,
		PreviousSeasonID:  string(e.PreviousSeasonID),
		ProratedAmount:    int64(e.ProratedAmount),
		ProrationDetails:  e.ProrationDetails,
		Status:            string(e.Status),
		PaidAt:            e.PaidAt,
		RefundAmount:      int64(e.RefundAmount),
		RefundCalculation: e.RefundCalculation,
		CreatedAt:         e.CreatedAt,
	}
	if !e.ProratedMonth.IsZero() {
		dto.ProratedMonth = e.ProratedMonth.String()
	}
	if !e.CancellationDate.IsZero() {
		d := e.CancellationDate
		dto.CancellationDate = &d
	}
	return dto
}

func toCreditDTO(c academy.RestCredit) CreditDTO {
	return CreditDTO{
		ID:              string(c.ID),
		StudentID:       string(c.StudentID),
		Type:            string(c.Type),
		RestStart:       c.RestStart,
		RestEnd:         c.RestEnd,
		RestDays:        c.RestDays,
		CreditAmount:    int64(c.CreditAmount),
		RemainingAmount: int64(c.RemainingAmount),
		Status:          string(c.Status),
		Reason:          c.Reason,
		Version:         c.Version,
		CreatedAt:       c.CreatedAt,
	}
}

func toPaymentDTO(p academy.Payment) PaymentDTO {
	return PaymentDTO{
		ID:               string(p.ID),
		StudentID:        string(p.StudentID),
		YearMonth:        p.YearMonth.String(),
		PaymentType:      string(p.ChargeType),
		BaseAmount:       int64(p.BaseAmount),
		DiscountAmount:   int64(p.DiscountAmount),
		AdditionalAmount: int64(p.AdditionalAmount),
		CarryoverAmount:  int64(p.CarryoverAmount),
		FinalAmount:      int64(p.FinalAmount),
		CreditID:         string(p.CreditID),
		DueDate:          p.DueDate,
		Status:           string(p.Status),
		Description:      p.Description,
		Display:          p.FinalAmount.String(),
	}
}

func toExpenseDTO(e academy.Expense) ExpenseDTO {
	return ExpenseDTO{
		ID:          string(e.ID),
		Category:    e.Category,
		Amount:      int64(e.Amount),
		ExpenseDate: e.ExpenseDate,
		Description: e.Description,
	}
}

func toCycleReportDTO(r billing.CycleReport) CycleReportDTO {
	dto := CycleReportDTO{
		RunID:     r.RunID,
		YearMonth: r.YearMonth.String(),
		Status:    string(r.Status()),
		Created:   r.Created,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
		Failures:  []FailureDTO{},
	}
	for _, f := range r.Failures() {
		dto.Failures = append(dto.Failures, FailureDTO{
			TenantID:  string(f.TenantID),
			StudentID: string(f.StudentID),
			Error:     f.Err.Error(),
		})
	}
	return dto
}

func toBillingRunDTO(r academy.BillingRun) BillingRunDTO {
	return BillingRunDTO{
		ID:          r.ID,
		YearMonth:   r.YearMonth.String(),
		Status:      string(r.Status),
		Created:     r.Created,
		Skipped:     r.Skipped,
		Failed:      r.Failed,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}
