/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	academy data for demos. Each scenario creates a tenant, students and a
	season, then drives the billing service so the ledger shows a specific
	feature.

AVAILABLE SCENARIOS:

	summer-transition:  June billing with a pro-rated top-up for July's non-season days
	mid-season-join:    Student joining three weeks into the season
	rest-credit:        Paused student with a carryover credit for next month's bill
	season-cancel:      Paid enrollment cancelled under the legal refund schedule

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create the tenant, students and season
 3. Enroll, pause or cancel through billing.Service
 4. Optionally run the monthly billing cycle

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "rest-credit"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring
  - billing/service.go: Enrollment and rest operations
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/calendar"
	"github.com/warp/tuition-engine/tuition"
)

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// resetter is implemented by stores that can be cleared for demos.
type resetter interface {
	Reset(ctx context.Context) error
}

const demoTenant academy.TenantID = "demo-academy"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "summer-transition",
		Name:        "Summer Transition",
		Description: "Monthly students moving into a summer season; June bills carry July's pro-rated non-season days",
	},
	{
		ID:          "mid-season-join",
		Name:        "Mid-Season Join",
		Description: "Student joining after the season started pays for the remaining class days",
	},
	{
		ID:          "rest-credit",
		Name:        "Rest Credit",
		Description: "Two-week rest issues a carryover credit that reduces the next monthly bill",
	},
	{
		ID:          "season-cancel",
		Name:        "Season Cancellation",
		Description: "Paid enrollment cancelled in the first third of the season (2/3 refund)",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"summer-transition": (*Handler).loadSummerTransitionScenario,
	"mid-season-join":   (*Handler).loadMidSeasonJoinScenario,
	"rest-credit":       (*Handler).loadRestCreditScenario,
	"season-cancel":     (*Handler).loadSeasonCancelScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		h.writeDomainError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetStore clears all data.
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Store.(resetter)
	if !ok {
		return fmt.Errorf("store %T does not support reset", h.Store)
	}
	return rs.Reset(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var (
	monWedFri = calendar.NewWeekdaySet(time.Monday, time.Wednesday, time.Friday)
	tueThu    = calendar.NewWeekdaySet(time.Tuesday, time.Thursday)
)

func demoSummerSeason() academy.Season {
	return academy.Season{
		ID:           "summer-2025",
		TenantID:     demoTenant,
		Name:         "2025 Summer intensive",
		Start:        calendar.MustParseDate("2025-07-21"),
		End:          calendar.MustParseDate("2025-08-29"),
		NonSeasonEnd: calendar.MustParseDate("2025-07-18"),
		Weekdays:     monWedFri,
		DefaultFee:   1200000,
		Continuation: academy.ContinuationDiscount{Type: academy.ContinuationRate, Rate: decimal.NewFromInt(10)},
	}
}

func (h *Handler) seedDirectory(ctx context.Context, students ...academy.Student) error {
	if err := h.Store.SaveTenant(ctx, academy.Tenant{ID: demoTenant, Name: "Demo Academy", DefaultDueDay: 10}); err != nil {
		return err
	}
	for _, st := range students {
		st.TenantID = demoTenant
		st.Status = academy.StudentActive
		if err := h.Store.SaveStudent(ctx, st); err != nil {
			return err
		}
	}
	return h.Store.SaveSeason(ctx, demoSummerSeason())
}

// loadSummerTransitionScenario enrolls two of three students before the
// season and bills June, so enrolled students carry July's non-season days.
func (h *Handler) loadSummerTransitionScenario(ctx context.Context) error {
	err := h.seedDirectory(ctx,
		academy.Student{ID: "kim", Name: "Kim Minji", MonthlyTuition: 400000, Weekdays: monWedFri},
		academy.Student{ID: "park", Name: "Park Jiho", MonthlyTuition: 310000, Weekdays: tueThu, DiscountRate: decimal.NewFromInt(10)},
		academy.Student{ID: "choi", Name: "Choi Yuna", MonthlyTuition: 350000, Weekdays: monWedFri},
	)
	if err != nil {
		return err
	}
	for _, id := range []academy.StudentID{"kim", "park"} {
		_, err := h.Service.Enroll(ctx, billing.EnrollRequest{
			TenantID:         demoTenant,
			StudentID:        id,
			SeasonID:         "summer-2025",
			RegistrationDate: calendar.MustParseDate("2025-06-20"),
		})
		if err != nil {
			return err
		}
	}
	_, err = h.Generator.RunMonthlyBillingCycle(ctx, calendar.MustParseYearMonth("2025-06"))
	return err
}

// loadMidSeasonJoinScenario enrolls one student three weeks into the season.
func (h *Handler) loadMidSeasonJoinScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx, academy.Student{ID: "lee", Name: "Lee Seojun", MonthlyTuition: 400000, Weekdays: monWedFri}); err != nil {
		return err
	}
	_, err := h.Service.Enroll(ctx, billing.EnrollRequest{
		TenantID:         demoTenant,
		StudentID:        "lee",
		SeasonID:         "summer-2025",
		RegistrationDate: calendar.MustParseDate("2025-08-11"),
	})
	return err
}

// loadRestCreditScenario pauses a student for two weeks of March, resumes
// them and bills April so the carryover credit shows on the bill.
func (h *Handler) loadRestCreditScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx, academy.Student{ID: "jung", Name: "Jung Hayun", MonthlyTuition: 400000, Weekdays: monWedFri}); err != nil {
		return err
	}
	_, err := h.Service.Pause(ctx, billing.PauseRequest{
		TenantID:   demoTenant,
		StudentID:  "jung",
		RestStart:  calendar.MustParseDate("2025-03-10"),
		RestEnd:    calendar.MustParseDate("2025-03-23"),
		CreditType: academy.CreditCarryover,
		Reason:     "family travel",
	})
	if err != nil {
		return err
	}
	if _, err := h.Service.Resume(ctx, demoTenant, "jung"); err != nil {
		return err
	}
	_, err = h.Generator.RunMonthlyBillingCycle(ctx, calendar.MustParseYearMonth("2025-04"))
	return err
}

// loadSeasonCancelScenario pays for the season and cancels in its first week.
func (h *Handler) loadSeasonCancelScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx, academy.Student{ID: "han", Name: "Han Doyun", MonthlyTuition: 400000, Weekdays: monWedFri}); err != nil {
		return err
	}
	res, err := h.Service.Enroll(ctx, billing.EnrollRequest{
		TenantID:         demoTenant,
		StudentID:        "han",
		SeasonID:         "summer-2025",
		RegistrationDate: calendar.MustParseDate("2025-07-01"),
	})
	if err != nil {
		return err
	}
	if _, err := h.Service.MarkEnrollmentPaid(ctx, demoTenant, res.Enrollment.ID); err != nil {
		return err
	}
	_, err = h.Service.Cancel(ctx, billing.CancelRequest{
		TenantID:         demoTenant,
		EnrollmentID:     res.Enrollment.ID,
		CancellationDate: calendar.MustParseDate("2025-07-25"),
		Policy:           tuition.RefundLegal,
	})
	return err
}
