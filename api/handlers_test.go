/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Calculator endpoints and request validation
- Directory upserts
- Season enrollment, payment and cancellation over HTTP
- Pause, credits and the monthly billing endpoint
- Error status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/credit"
	"github.com/warp/tuition-engine/store/memory"
)

type testServer struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
	store   *memory.Store
}

func fixedClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := memory.New()
	clock := fixedClock()

	ledger := credit.NewLedger()
	ledger.Now = clock
	gen := billing.NewGenerator(store, ledger, log)
	gen.Now = clock
	svc := billing.NewService(store, ledger, log)
	svc.Now = clock

	h := NewHandler(store, svc, gen, log)
	return &testServer{t: t, handler: h, router: NewRouter(h, nil), store: store}
}

// do sends body (marshalled unless it is a string) and decodes the response
// into out when out is non-nil.
func (s *testServer) do(method, path string, body any, out any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

// seedFall creates tenant t1, student s1 (400,000 Mon/Wed/Fri) and the fall season.
func (s *testServer) seedFall() {
	s.t.Helper()
	rec := s.do(http.MethodPut, "/api/tenants/t1", map[string]any{"name": "Seoul Academy"}, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPut, "/api/tenants/t1/students/s1", map[string]any{
		"name": "Kim", "monthly_tuition": 400000, "weekdays": []int{1, 3, 5},
	}, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPut, "/api/tenants/t1/seasons/fall", map[string]any{
		"name":                     "Fall intensive",
		"start_date":               "2025-09-15",
		"end_date":                 "2025-11-28",
		"non_season_end_date":      "2025-09-10",
		"operating_days":           "월,수,금",
		"default_season_fee":       1200000,
		"continuous_discount_type": "rate",
		"continuous_discount_rate": "10",
	}, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
}

// =============================================================================
// CALCULATORS
// =============================================================================

func TestCalculateProration(t *testing.T) {
	// GIVEN: 400,000 a month on Mon/Wed/Fri, non-season ending September 10
	// WHEN: Posting to the pro-ration calculator
	// THEN: 5 of 13 classes are billed, floored to 153,000

	s := newTestServer(t)
	var out map[string]any
	rec := s.do(http.MethodPost, "/api/calculate/prorate", map[string]any{
		"monthly_fee": 400000, "weekdays": []int{1, 3, 5}, "period_end": "2025-09-10",
	}, &out)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 153000, out["prorated_fee"])
	assert.EqualValues(t, 5, out["class_count_until_end"])
	assert.EqualValues(t, 13, out["total_monthly_classes"])
	assert.Equal(t, "2025-09-01", out["period_start"])
}

func TestCalculateProration_ValidationErrors(t *testing.T) {
	// GIVEN: A negative fee and an impossible date
	// WHEN: Posting to the pro-ration calculator
	// THEN: 400 with the failing rule per field

	s := newTestServer(t)
	var out ErrorResponse
	rec := s.do(http.MethodPost, "/api/calculate/prorate", map[string]any{
		"monthly_fee": -1, "period_end": "2025-13-01",
	}, &out)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", out.Code)
	details, ok := out.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "gte", details["monthly_fee"])
	assert.Equal(t, "date", details["period_end"])
}

func TestCalculateProration_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/calculate/prorate", `{"monthly_fee":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/calculate/prorate", `{"monthly_fee": 1, "period_end": "2025-09-10", "weekdays": "월,화,xyz"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalculateMidSeason(t *testing.T) {
	s := newTestServer(t)
	var out map[string]any
	rec := s.do(http.MethodPost, "/api/calculate/mid-season", map[string]any{
		"season_fee": 1000000, "season_start": "2025-07-01", "season_end": "2025-08-31",
		"join_date": "2025-08-04", "weekdays": []int{1, 3, 5},
	}, &out)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 461000, out["prorated_fee"])
	assert.EqualValues(t, 539000, out["discount"])
	assert.Equal(t, true, out["is_prorated"])
}

func TestCalculateRefund(t *testing.T) {
	// GIVEN: 4 of 10 weekday classes attended
	// WHEN: Previewing a legal-policy refund
	// THEN: Half of 500,000 is refunded

	s := newTestServer(t)
	var out map[string]any
	rec := s.do(http.MethodPost, "/api/calculate/refund", map[string]any{
		"season_fee": 500000, "season_start": "2025-09-01", "season_end": "2025-09-12",
		"cancellation_date": "2025-09-04", "weekdays": "mon,tue,wed,thu,fri",
	}, &out)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 250000, out["refund_amount"])
	assert.Equal(t, "40.00%", out["progress_rate"])
	assert.Equal(t, "50.00%", out["refund_rate"])
	assert.Equal(t, "legal", out["policy"])
}

func TestCalculateRefund_UnknownPolicyRejected(t *testing.T) {
	s := newTestServer(t)
	var out ErrorResponse
	rec := s.do(http.MethodPost, "/api/calculate/refund", map[string]any{
		"season_fee": 500000, "season_start": "2025-09-01", "season_end": "2025-09-12",
		"cancellation_date": "2025-09-04", "refund_policy": "generous",
	}, &out)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"refund_policy": "oneof"}, out.Details)
}

func TestCalculateRestCredit(t *testing.T) {
	s := newTestServer(t)
	var out map[string]any
	rec := s.do(http.MethodPost, "/api/calculate/rest-credit", map[string]any{
		"monthly_fee": 310000, "rest_start_date": "2025-03-10", "rest_end_date": "2025-03-19",
	}, &out)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 100000, out["credit_amount"])
	assert.EqualValues(t, 10, out["rest_days"])
	assert.EqualValues(t, 31, out["days_in_month"])
}

func TestCalculateRestCredit_ReversedPeriod(t *testing.T) {
	s := newTestServer(t)
	var out ErrorResponse
	rec := s.do(http.MethodPost, "/api/calculate/rest-credit", map[string]any{
		"monthly_fee": 310000, "rest_start_date": "2025-03-19", "rest_end_date": "2025-03-10",
	}, &out)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", out.Code)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestPutStudent_KeepsCurrentSeason(t *testing.T) {
	// GIVEN: A student enrolled in a season
	// WHEN: Updating the student's tuition
	// THEN: The current season pointer survives the update

	s := newTestServer(t)
	s.seedFall()
	rec := s.do(http.MethodPost, "/api/tenants/t1/seasons/fall/enrollments", map[string]any{
		"student_id": "s1", "registration_date": "2025-08-20",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var st StudentDTO
	rec = s.do(http.MethodPut, "/api/tenants/t1/students/s1", map[string]any{
		"name": "Kim", "monthly_tuition": 450000, "weekdays": "월,수,금",
	}, &st)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(450000), st.MonthlyTuition)
	assert.Equal(t, "fall", st.CurrentSeasonID)
	assert.Equal(t, "active", st.Status)
	assert.Equal(t, "월, 수, 금", st.WeeklySchedule)
}

func TestPutStudent_DiscountOutOfRange(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPut, "/api/tenants/t1/students/s1", map[string]any{
		"name": "Kim", "monthly_tuition": 400000, "discount_rate": "120",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStudent_NotFound(t *testing.T) {
	s := newTestServer(t)
	var out ErrorResponse
	rec := s.do(http.MethodGet, "/api/tenants/t1/students/ghost", nil, &out)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", out.Code)
}

func TestPutSeason_RejectsBadOrdering(t *testing.T) {
	// GIVEN: A non-season end after the season start
	// WHEN: Saving the season
	// THEN: 400 and nothing is stored

	s := newTestServer(t)
	rec := s.do(http.MethodPut, "/api/tenants/t1/seasons/bad", map[string]any{
		"name": "Bad", "start_date": "2025-09-15", "end_date": "2025-11-28",
		"non_season_end_date": "2025-09-20", "default_season_fee": 100000,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var seasons []SeasonDTO
	s.do(http.MethodGet, "/api/tenants/t1/seasons", nil, &seasons)
	assert.Empty(t, seasons)
}

// =============================================================================
// SEASON LIFECYCLE
// =============================================================================

func TestEnrollPayAndCancel(t *testing.T) {
	// GIVEN: A continuing student enrolling before the fall season
	// WHEN: Enrolling, paying and cancelling after 40% of classes
	// THEN: The discounted fee is charged and half of it comes back as an expense

	s := newTestServer(t)
	s.seedFall()

	var enrolled EnrollResponse
	rec := s.do(http.MethodPost, "/api/tenants/t1/seasons/fall/enrollments", map[string]any{
		"student_id": "s1", "registration_date": "2025-08-20",
		"is_continuous": true, "previous_season_id": "summer",
	}, &enrolled)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	e := enrolled.Enrollment
	assert.Equal(t, int64(1080000), e.SeasonFee)
	assert.Equal(t, int64(120000), e.DiscountAmount)
	assert.Equal(t, "rate", e.DiscountType)
	assert.Equal(t, "pending", e.Status)
	assert.Equal(t, "2025-09", e.ProratedMonth)
	assert.Equal(t, int64(153000), e.ProratedAmount)
	assert.Equal(t, "season", enrolled.Payment.PaymentType)
	assert.Equal(t, "2025-08-27", enrolled.Payment.DueDate.String())
	assert.Equal(t, "1,080,000원", enrolled.Payment.Display)
	assert.Nil(t, enrolled.MidSeason)

	var paid EnrollmentDTO
	rec = s.do(http.MethodPost, "/api/tenants/t1/enrollments/"+e.ID+"/pay", nil, &paid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", paid.Status)
	assert.NotNil(t, paid.PaidAt)

	rec = s.do(http.MethodPost, "/api/tenants/t1/enrollments/"+e.ID+"/pay", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var cancelled CancelResponse
	rec = s.do(http.MethodPost, "/api/tenants/t1/enrollments/"+e.ID+"/cancel", map[string]any{
		"cancellation_date": "2025-10-17", "refund_policy": "legal",
	}, &cancelled)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", cancelled.Enrollment.Status)
	require.NotNil(t, cancelled.Enrollment.CancellationDate)
	assert.Equal(t, "2025-10-17", cancelled.Enrollment.CancellationDate.String())
	require.NotNil(t, cancelled.Expense)
	assert.Equal(t, "refund", cancelled.Expense.Category)
	assert.Equal(t, cancelled.Enrollment.RefundAmount, cancelled.Expense.Amount)

	var out ErrorResponse
	rec = s.do(http.MethodPost, "/api/tenants/t1/enrollments/"+e.ID+"/cancel", map[string]any{}, &out)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_cancelled", out.Code)

	var expenses []ExpenseDTO
	s.do(http.MethodGet, "/api/tenants/t1/expenses", nil, &expenses)
	assert.Len(t, expenses, 1)

	var st StudentDTO
	s.do(http.MethodGet, "/api/tenants/t1/students/s1", nil, &st)
	assert.Empty(t, st.CurrentSeasonID)
}

func TestEnroll_TwiceConflicts(t *testing.T) {
	s := newTestServer(t)
	s.seedFall()
	body := map[string]any{"student_id": "s1", "registration_date": "2025-08-20"}

	rec := s.do(http.MethodPost, "/api/tenants/t1/seasons/fall/enrollments", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var out ErrorResponse
	rec = s.do(http.MethodPost, "/api/tenants/t1/seasons/fall/enrollments", body, &out)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_enrolled", out.Code)
}

func TestEnroll_UnknownSeason(t *testing.T) {
	s := newTestServer(t)
	s.seedFall()
	rec := s.do(http.MethodPost, "/api/tenants/t1/seasons/winter/enrollments", map[string]any{"student_id": "s1"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewSeason_WritesNothing(t *testing.T) {
	s := newTestServer(t)
	s.seedFall()

	var preview map[string]any
	rec := s.do(http.MethodGet, "/api/tenants/t1/seasons/fall/preview?student_id=s1&as_of=2025-10-01", nil, &preview)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, preview["mid_season"])

	rec = s.do(http.MethodGet, "/api/tenants/t1/seasons/fall/preview", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var payments []PaymentDTO
	s.do(http.MethodGet, "/api/tenants/t1/payments", nil, &payments)
	assert.Empty(t, payments)
}

// =============================================================================
// REST AND CREDITS
// =============================================================================

func TestPauseCreditsAndBilling(t *testing.T) {
	// GIVEN: A 310,000 student resting ten days in March
	// WHEN: Pausing, resuming and billing April
	// THEN: The 100,000 credit reduces April's bill and is used up

	s := newTestServer(t)
	s.do(http.MethodPut, "/api/tenants/t1", map[string]any{"name": "Seoul Academy", "default_due_day": 10}, nil)
	s.do(http.MethodPut, "/api/tenants/t1/students/s2", map[string]any{
		"name": "Park", "monthly_tuition": 310000, "weekdays": []int{2, 4},
	}, nil)

	var paused PauseResponse
	rec := s.do(http.MethodPost, "/api/tenants/t1/students/s2/pause", map[string]any{
		"rest_start_date": "2025-03-10", "rest_end_date": "2025-03-19", "reason": "travel",
	}, &paused)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paused", paused.Student.Status)
	require.NotNil(t, paused.Credit)
	assert.Equal(t, int64(100000), paused.Credit.CreditAmount)
	assert.Equal(t, "carryover", paused.Credit.Type)

	rec = s.do(http.MethodPost, "/api/tenants/t1/students/s2/pause", map[string]any{
		"rest_start_date": "2025-03-20", "rest_end_date": "2025-03-25",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/tenants/t1/students/s2/resume", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report CycleReportDTO
	rec = s.do(http.MethodPost, "/api/billing/runs", map[string]any{"year_month": "2025-04"}, &report)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, "completed", report.Status)
	assert.Empty(t, report.Failures)

	var payments []PaymentDTO
	s.do(http.MethodGet, "/api/tenants/t1/payments?student_id=s2&year_month=2025-04", nil, &payments)
	require.Len(t, payments, 1)
	assert.Equal(t, int64(100000), payments[0].CarryoverAmount)
	assert.Equal(t, int64(210000), payments[0].FinalAmount)
	assert.Equal(t, "2025-04-10", payments[0].DueDate.String())

	var credits []CreditDTO
	s.do(http.MethodGet, "/api/tenants/t1/students/s2/credits", nil, &credits)
	require.Len(t, credits, 1)
	assert.Equal(t, "applied", credits[0].Status)
	assert.Equal(t, int64(0), credits[0].RemainingAmount)

	var runs []BillingRunDTO
	rec = s.do(http.MethodGet, "/api/billing/runs?limit=5", nil, &runs)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runs, 1)
	assert.Equal(t, "2025-04", runs[0].YearMonth)
}

func TestAdjustAndCancelCredit(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPut, "/api/tenants/t1", map[string]any{"name": "Seoul Academy"}, nil)
	s.do(http.MethodPut, "/api/tenants/t1/students/s2", map[string]any{"name": "Park", "monthly_tuition": 310000}, nil)

	var paused PauseResponse
	s.do(http.MethodPost, "/api/tenants/t1/students/s2/pause", map[string]any{
		"rest_start_date": "2025-03-10", "rest_end_date": "2025-03-19",
	}, &paused)
	require.NotNil(t, paused.Credit)
	id := paused.Credit.ID

	var adjusted CreditDTO
	rec := s.do(http.MethodPost, "/api/tenants/t1/credits/"+id+"/adjust", map[string]any{"amount": 30000}, &adjusted)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(70000), adjusted.RemainingAmount)
	assert.Equal(t, "partial", adjusted.Status)

	rec = s.do(http.MethodPost, "/api/tenants/t1/credits/"+id+"/adjust", map[string]any{"amount": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var cancelled CreditDTO
	rec = s.do(http.MethodPost, "/api/tenants/t1/credits/"+id+"/cancel", nil, &cancelled)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", cancelled.Status)

	rec = s.do(http.MethodPost, "/api/tenants/t1/credits/"+id+"/adjust", map[string]any{"amount": 1000}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// BILLING
// =============================================================================

func TestRunBilling_InvalidMonth(t *testing.T) {
	s := newTestServer(t)
	var out ErrorResponse
	rec := s.do(http.MethodPost, "/api/billing/runs", map[string]any{"year_month": "2025-4"}, &out)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"year_month": "yearmonth"}, out.Details)

	rec = s.do(http.MethodGet, "/api/billing/runs?limit=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunBilling_UnparsableMonthNeverBills(t *testing.T) {
	// GIVEN: A validator whose yearmonth rule lets everything through
	// WHEN: Billing is requested for a malformed month
	// THEN: The handler still rejects it and no run is recorded

	s := newTestServer(t)
	s.seedFall()
	require.NoError(t, s.handler.validate.RegisterValidation("yearmonth", func(validator.FieldLevel) bool { return true }))

	var out ErrorResponse
	rec := s.do(http.MethodPost, "/api/billing/runs", map[string]any{"year_month": "2025-4"}, &out)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid year_month", out.Error)

	runs, err := s.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestListPayments_InvalidMonth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/tenants/t1/payments?year_month=April", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &academy.NotFoundError{Entity: "student", ID: "x"}, http.StatusNotFound},
		{"wrapped not found", academy.Dependency("load student", &academy.NotFoundError{Entity: "student", ID: "x"}), http.StatusNotFound},
		{"validation", &academy.ValidationError{Field: "fee", Reason: "negative"}, http.StatusBadRequest},
		{"state", &academy.StateError{Entity: "student", ID: "x", State: "withdrawn", Op: "pause"}, http.StatusConflict},
		{"duplicate", academy.ErrDuplicatePayment, http.StatusConflict},
		{"version", academy.ErrConcurrentModification, http.StatusConflict},
		{"dependency", academy.Dependency("create payment", errors.New("disk full")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := statusFor(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestListTenants(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.SaveTenant(context.Background(), academy.Tenant{ID: "t9", Name: "Busan"}))

	var tenants []TenantDTO
	rec := s.do(http.MethodGet, "/api/tenants", nil, &tenants)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, tenants, 1)
	assert.Equal(t, "Busan", tenants[0].Name)
}
