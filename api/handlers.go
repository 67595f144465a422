/*
handlers.go - HTTP API handlers for the tuition billing engine

PURPOSE:
  Exposes the calculators, the season enrollment lifecycle, rest credits and
  the monthly billing batch via REST. Handles HTTP request/response, JSON
  serialization and validation, and delegates to the billing package.

ENDPOINTS:
  Calculators (pure, no writes):
    POST   /api/calculate/prorate       Non-season pro-ration
    POST   /api/calculate/mid-season    Mid-season join fee
    POST   /api/calculate/refund        Season cancellation refund
    POST   /api/calculate/rest-credit   Rest credit amount

  Directory (per tenant):
    GET    /api/tenants
    PUT    /api/tenants/{tenantID}
    GET    /api/tenants/{tenantID}/students/{studentID}
    PUT    /api/tenants/{tenantID}/students/{studentID}
    GET    /api/tenants/{tenantID}/seasons
    PUT    /api/tenants/{tenantID}/seasons/{seasonID}

  Seasons:
    GET    /api/tenants/{tenantID}/seasons/{seasonID}/preview?student_id=&as_of=
    POST   /api/tenants/{tenantID}/seasons/{seasonID}/enrollments
    POST   /api/tenants/{tenantID}/enrollments/{enrollmentID}/pay
    POST   /api/tenants/{tenantID}/enrollments/{enrollmentID}/cancel

  Rest and credits:
    POST   /api/tenants/{tenantID}/students/{studentID}/pause
    POST   /api/tenants/{tenantID}/students/{studentID}/resume
    GET    /api/tenants/{tenantID}/students/{studentID}/credits
    POST   /api/tenants/{tenantID}/credits/{creditID}/adjust
    POST   /api/tenants/{tenantID}/credits/{creditID}/cancel

  Ledger:
    GET    /api/tenants/{tenantID}/payments?student_id=&year_month=
    GET    /api/tenants/{tenantID}/expenses

  Billing:
    POST   /api/billing/runs            Run the monthly cycle now
    GET    /api/billing/runs?limit=     Recent run records

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status derived from the academy
  error taxonomy:
  - 400: ErrValidation, malformed body
  - 404: ErrNotFound
  - 409: ErrInvalidState, ErrDuplicatePayment, ErrConcurrentModification
  - 500: everything else (ErrDependency)

SECURITY NOTE:
  No authentication. The tenant is taken from the path.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/calendar"
	"github.com/warp/tuition-engine/money"
	"github.com/warp/tuition-engine/tuition"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     academy.TxStore
	Service   *billing.Service
	Generator *billing.Generator

	log      *zap.Logger
	validate *validator.Validate

	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(store academy.TxStore, svc *billing.Service, gen *billing.Generator, log *zap.Logger) *Handler {
	return &Handler{
		Store:     store,
		Service:   svc,
		Generator: gen,
		log:       log.Named("api"),
		validate:  newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := calendar.ParseDate(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("yearmonth", func(fl validator.FieldLevel) bool {
		_, err := calendar.ParseYearMonth(fl.Field().String())
		return err == nil
	})
	return v
}

// =============================================================================
// CALCULATOR HANDLERS
// =============================================================================

// CalculateProration returns the pro-rated charge for part of a month.
func (h *Handler) CalculateProration(w http.ResponseWriter, r *http.Request) {
	var req ProrateRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := tuition.ProRate(tuition.ProrationInput{
		MonthlyFee:   money.Amount(req.MonthlyFee),
		Weekdays:     req.Weekdays,
		PeriodStart:  optionalDate(req.PeriodStart),
		PeriodEnd:    optionalDate(req.PeriodEnd),
		DiscountRate: req.DiscountRate,
	})
	if err != nil {
		h.writeDomainError(w, "Pro-ration failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CalculateMidSeason returns the fee for joining a season after it started.
func (h *Handler) CalculateMidSeason(w http.ResponseWriter, r *http.Request) {
	var req MidSeasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := tuition.MidSeasonJoin(tuition.MidSeasonInput{
		SeasonFee:   money.Amount(req.SeasonFee),
		SeasonStart: optionalDate(req.SeasonStart),
		SeasonEnd:   optionalDate(req.SeasonEnd),
		JoinDate:    optionalDate(req.JoinDate),
		Weekdays:    req.Weekdays,
	})
	if err != nil {
		h.writeDomainError(w, "Mid-season calculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CalculateRefund returns the refund for a cancellation, without recording it.
func (h *Handler) CalculateRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := tuition.SeasonRefund(tuition.RefundInput{
		SeasonFee:        money.Amount(req.SeasonFee),
		SeasonStart:      optionalDate(req.SeasonStart),
		SeasonEnd:        optionalDate(req.SeasonEnd),
		CancellationDate: optionalDate(req.CancellationDate),
		Weekdays:         req.Weekdays,
		Policy:           tuition.RefundPolicy(req.Policy),
	})
	if err != nil {
		h.writeDomainError(w, "Refund calculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CalculateRestCredit returns the credit a rest period would earn.
func (h *Handler) CalculateRestCredit(w http.ResponseWriter, r *http.Request) {
	var req RestCreditRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := tuition.RestCreditAmount(money.Amount(req.MonthlyFee), optionalDate(req.RestStart), optionalDate(req.RestEnd))
	if err != nil {
		h.writeDomainError(w, "Rest credit calculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// ListTenants returns all tenants.
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Store.ListTenants(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list tenants", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(tenants, func(t academy.Tenant, _ int) TenantDTO { return toTenantDTO(t) }))
}

// PutTenant creates or updates a tenant.
func (h *Handler) PutTenant(w http.ResponseWriter, r *http.Request) {
	var req TenantRequest
	if !h.decode(w, r, &req) {
		return
	}
	t := academy.Tenant{ID: tenantID(r), Name: req.Name, DefaultDueDay: req.DefaultDueDay}
	if err := h.Store.SaveTenant(r.Context(), t); err != nil {
		h.writeDomainError(w, "Failed to save tenant", err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantDTO(t))
}

// GetStudent returns one student.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	st, err := h.Store.GetStudent(r.Context(), tenantID(r), academy.StudentID(chi.URLParam(r, "studentID")))
	if err != nil {
		h.writeDomainError(w, "Failed to get student", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(st))
}

// PutStudent creates or updates a student. The current season is kept.
func (h *Handler) PutStudent(w http.ResponseWriter, r *http.Request) {
	var req StudentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !money.ValidPercent(req.DiscountRate) {
		writeError(w, http.StatusBadRequest, "discount_rate must be within 0-100", nil)
		return
	}

	ctx := r.Context()
	id := academy.StudentID(chi.URLParam(r, "studentID"))
	st, err := h.Store.GetStudent(ctx, tenantID(r), id)
	if err != nil && !academy.IsNotFound(err) {
		h.writeDomainError(w, "Failed to load student", err)
		return
	}
	st.ID, st.TenantID = id, tenantID(r)
	st.Name = req.Name
	st.MonthlyTuition = money.Amount(req.MonthlyTuition)
	st.DiscountRate = req.DiscountRate
	st.Weekdays = req.Weekdays
	st.DueDay = req.DueDay
	st.Status = academy.StudentStatus(lo.CoalesceOrEmpty(req.Status, string(st.Status), string(academy.StudentActive)))

	if err := h.Store.SaveStudent(ctx, st); err != nil {
		h.writeDomainError(w, "Failed to save student", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(st))
}

// ListSeasons returns a tenant's seasons, earliest first.
func (h *Handler) ListSeasons(w http.ResponseWriter, r *http.Request) {
	seasons, err := h.Store.ListSeasons(r.Context(), tenantID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list seasons", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(seasons, func(s academy.Season, _ int) SeasonDTO { return toSeasonDTO(s) }))
}

// PutSeason creates or updates a season after validating its dates.
func (h *Handler) PutSeason(w http.ResponseWriter, r *http.Request) {
	var req SeasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	season := academy.Season{
		ID:           academy.SeasonID(chi.URLParam(r, "seasonID")),
		TenantID:     tenantID(r),
		Name:         req.Name,
		Start:        optionalDate(req.StartDate),
		End:          optionalDate(req.EndDate),
		NonSeasonEnd: optionalDate(req.NonSeasonEndDate),
		Weekdays:     req.Weekdays,
		DefaultFee:   money.Amount(req.DefaultFee),
		Continuation: academy.ContinuationDiscount{
			Type: academy.ContinuationDiscountType(req.ContinuousDiscountType),
			Rate: req.ContinuousDiscountRate,
		},
	}
	if err := season.Validate(); err != nil {
		h.writeDomainError(w, "Invalid season", err)
		return
	}
	if err := h.Store.SaveSeason(r.Context(), season); err != nil {
		h.writeDomainError(w, "Failed to save season", err)
		return
	}
	writeJSON(w, http.StatusOK, toSeasonDTO(season))
}

// =============================================================================
// SEASON HANDLERS
// =============================================================================

// PreviewSeason shows the charges enrolling a student would produce.
func (h *Handler) PreviewSeason(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	studentID := q.Get("student_id")
	if studentID == "" {
		writeError(w, http.StatusBadRequest, "student_id is required", nil)
		return
	}
	var asOf calendar.Date
	if s := q.Get("as_of"); s != "" {
		d, err := calendar.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of", err)
			return
		}
		asOf = d
	}

	preview, err := h.Service.PreviewSeason(r.Context(), tenantID(r), academy.SeasonID(chi.URLParam(r, "seasonID")), academy.StudentID(studentID), asOf)
	if err != nil {
		h.writeDomainError(w, "Preview failed", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// Enroll registers a student for a season and creates the season payment.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := billing.EnrollRequest{
		TenantID:         tenantID(r),
		StudentID:        academy.StudentID(req.StudentID),
		SeasonID:         academy.SeasonID(chi.URLParam(r, "seasonID")),
		RegistrationDate: optionalDate(req.RegistrationDate),
		Continuous:       req.IsContinuous,
		PreviousSeasonID: academy.SeasonID(req.PreviousSeasonID),
	}
	if req.SeasonFee != nil {
		fee := money.Amount(*req.SeasonFee)
		in.SeasonFee = &fee
	}

	res, err := h.Service.Enroll(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, "Enrollment failed", err)
		return
	}
	resp := EnrollResponse{Enrollment: toEnrollmentDTO(res.Enrollment), Payment: toPaymentDTO(res.Payment)}
	if res.MidSeason != nil {
		resp.MidSeason = res.MidSeason
	}
	writeJSON(w, http.StatusCreated, resp)
}

// PayEnrollment marks a pending enrollment as paid.
func (h *Handler) PayEnrollment(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.MarkEnrollmentPaid(r.Context(), tenantID(r), academy.EnrollmentID(chi.URLParam(r, "enrollmentID")))
	if err != nil {
		h.writeDomainError(w, "Failed to mark enrollment paid", err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(e))
}

// CancelEnrollment cancels an enrollment and records its refund.
func (h *Handler) CancelEnrollment(w http.ResponseWriter, r *http.Request) {
	var req CancelEnrollmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Service.Cancel(r.Context(), billing.CancelRequest{
		TenantID:         tenantID(r),
		EnrollmentID:     academy.EnrollmentID(chi.URLParam(r, "enrollmentID")),
		CancellationDate: optionalDate(req.CancellationDate),
		Policy:           tuition.RefundPolicy(req.Policy),
	})
	if err != nil {
		h.writeDomainError(w, "Cancellation failed", err)
		return
	}
	resp := CancelResponse{Enrollment: toEnrollmentDTO(res.Enrollment), Refund: res.Refund}
	if res.Expense != nil {
		dto := toExpenseDTO(*res.Expense)
		resp.Expense = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// REST AND CREDIT HANDLERS
// =============================================================================

// PauseStudent pauses a student and issues the rest credit.
func (h *Handler) PauseStudent(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Service.Pause(r.Context(), billing.PauseRequest{
		TenantID:   tenantID(r),
		StudentID:  academy.StudentID(chi.URLParam(r, "studentID")),
		RestStart:  optionalDate(req.RestStart),
		RestEnd:    optionalDate(req.RestEnd),
		CreditType: academy.CreditType(req.CreditType),
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, "Pause failed", err)
		return
	}
	resp := PauseResponse{Student: toStudentDTO(res.Student), Calculation: res.Calculation}
	if res.Credit != nil {
		dto := toCreditDTO(*res.Credit)
		resp.Credit = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResumeStudent returns a paused student to active.
func (h *Handler) ResumeStudent(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.Resume(r.Context(), tenantID(r), academy.StudentID(chi.URLParam(r, "studentID")))
	if err != nil {
		h.writeDomainError(w, "Resume failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(st))
}

// ListCredits returns a student's credits, oldest first.
func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.Service.Credits(r.Context(), tenantID(r), academy.StudentID(chi.URLParam(r, "studentID")))
	if err != nil {
		h.writeDomainError(w, "Failed to list credits", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(credits, func(c academy.RestCredit, _ int) CreditDTO { return toCreditDTO(c) }))
}

// AdjustCredit reduces an open credit by hand.
func (h *Handler) AdjustCredit(w http.ResponseWriter, r *http.Request) {
	var req AdjustCreditRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.Service.AdjustCredit(r.Context(), tenantID(r), academy.CreditID(chi.URLParam(r, "creditID")), money.Amount(req.Amount))
	if err != nil {
		h.writeDomainError(w, "Credit adjustment failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditDTO(c))
}

// CancelCredit cancels an open credit.
func (h *Handler) CancelCredit(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.CancelCredit(r.Context(), tenantID(r), academy.CreditID(chi.URLParam(r, "creditID")))
	if err != nil {
		h.writeDomainError(w, "Credit cancellation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditDTO(c))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListPayments returns a tenant's payments, optionally by student and month.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := academy.PaymentFilter{TenantID: tenantID(r), StudentID: academy.StudentID(q.Get("student_id"))}
	if s := q.Get("year_month"); s != "" {
		ym, err := calendar.ParseYearMonth(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year_month", err)
			return
		}
		filter.YearMonth = ym
	}
	payments, err := h.Store.ListPayments(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(payments, func(p academy.Payment, _ int) PaymentDTO { return toPaymentDTO(p) }))
}

// ListExpenses returns a tenant's expenses.
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.Store.ListExpenses(r.Context(), tenantID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(expenses, func(e academy.Expense, _ int) ExpenseDTO { return toExpenseDTO(e) }))
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// RunBilling runs the monthly billing cycle for the requested month.
func (h *Handler) RunBilling(w http.ResponseWriter, r *http.Request) {
	var req RunBillingRequest
	if !h.decode(w, r, &req) {
		return
	}
	ym, err := calendar.ParseYearMonth(req.YearMonth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year_month", err)
		return
	}

	report, err := h.Generator.RunMonthlyBillingCycle(r.Context(), ym)
	if err != nil {
		h.writeDomainError(w, "Billing run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toCycleReportDTO(report))
}

// ListBillingRuns returns recent billing runs, newest first.
func (h *Handler) ListBillingRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}
	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, "Failed to list billing runs", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(runs, func(run academy.BillingRun, _ int) BillingRunDTO { return toBillingRunDTO(run) }))
}

// =============================================================================
// HELPERS
// =============================================================================

func tenantID(r *http.Request) academy.TenantID {
	return academy.TenantID(chi.URLParam(r, "tenantID"))
}

// optionalDate parses a date already checked by the "date" rule; empty
// strings give the zero Date.
func optionalDate(s string) calendar.Date {
	if s == "" {
		return calendar.Date{}
	}
	d, _ := calendar.ParseDate(s)
	return d
}

// decode reads and validates a JSON body. On failure it writes a 400 and
// returns false. An empty body decodes to the zero request.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) {
			details := make(map[string]string, len(fields))
			for _, f := range fields {
				details[f.Field()] = f.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "validation", Details: details})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

// statusFor maps the academy error taxonomy to an HTTP status.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, academy.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, academy.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, academy.ErrAlreadyCancelled):
		return http.StatusConflict, "already_cancelled"
	case errors.Is(err, academy.ErrAlreadyEnrolled):
		return http.StatusConflict, "already_enrolled"
	case errors.Is(err, academy.ErrInvalidState),
		errors.Is(err, academy.ErrDuplicatePayment),
		errors.Is(err, academy.ErrConcurrentModification):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error(message, zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
