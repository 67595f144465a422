/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Tenant, students and season are created
	- Enrollments, credits and payments match the billing rules
	- Loading through the API resets previous data

These tests double as integration tests of the billing service.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tuition-engine/academy"
	"github.com/warp/tuition-engine/calendar"
	"github.com/warp/tuition-engine/money"
)

func demoPayments(t *testing.T, s *testServer, studentID academy.StudentID, month string) []academy.Payment {
	t.Helper()
	f := academy.PaymentFilter{TenantID: demoTenant, StudentID: studentID}
	if month != "" {
		f.YearMonth = calendar.MustParseYearMonth(month)
	}
	ps, err := s.store.ListPayments(context.Background(), f)
	require.NoError(t, err)
	return ps
}

func monthlyOf(ps []academy.Payment) *academy.Payment {
	for i := range ps {
		if ps[i].ChargeType == academy.ChargeMonthly {
			return &ps[i]
		}
	}
	return nil
}

func TestScenario_SummerTransition(t *testing.T) {
	// GIVEN: Summer transition scenario
	// WHEN: Loading the scenario
	// THEN: Enrolled students' June bills carry July's non-season days; the
	//       student who stays on monthly billing has no top-up

	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.handler.loadSummerTransitionScenario(ctx))

	kim := monthlyOf(demoPayments(t, s, "kim", "2025-06"))
	require.NotNil(t, kim)
	// July 2025 has 13 Mon/Wed/Fri classes; 8 fall on or before the 18th.
	assert.Equal(t, money.Amount(246000), kim.AdditionalAmount)
	assert.Equal(t, money.Amount(646000), kim.FinalAmount)
	assert.Equal(t, "2025-06-10", kim.DueDate.String())

	choi := monthlyOf(demoPayments(t, s, "choi", "2025-06"))
	require.NotNil(t, choi)
	assert.Equal(t, money.Amount(0), choi.AdditionalAmount)
	assert.Equal(t, money.Amount(350000), choi.FinalAmount)

	season := demoPayments(t, s, "park", "")
	assert.Len(t, season, 2, "season fee plus June monthly bill")

	st, err := s.store.GetStudent(ctx, demoTenant, "kim")
	require.NoError(t, err)
	assert.Equal(t, academy.SeasonID("summer-2025"), st.CurrentSeasonID)
}

func TestScenario_MidSeasonJoin(t *testing.T) {
	// GIVEN: A student joining on August 11
	// WHEN: Loading the scenario
	// THEN: 9 of 18 season classes remain, so half the fee is charged

	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.handler.loadMidSeasonJoinScenario(ctx))

	enrollments, err := s.store.ListStudentEnrollments(ctx, demoTenant, "lee")
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, money.Amount(600000), enrollments[0].SeasonFee)

	ps := demoPayments(t, s, "lee", "")
	require.Len(t, ps, 1)
	assert.Equal(t, academy.ChargeSeason, ps[0].ChargeType)
	assert.Equal(t, money.Amount(600000), ps[0].FinalAmount)
}

func TestScenario_RestCredit(t *testing.T) {
	// GIVEN: A 400,000 student resting 14 days of March
	// WHEN: Loading the scenario
	// THEN: The 180,000 credit is applied in full to April's bill

	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.handler.loadRestCreditScenario(ctx))

	credits, err := s.store.ListCredits(ctx, demoTenant, "jung")
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, money.Amount(180000), credits[0].CreditAmount)
	assert.Equal(t, academy.CreditApplied, credits[0].Status)

	april := monthlyOf(demoPayments(t, s, "jung", "2025-04"))
	require.NotNil(t, april)
	assert.Equal(t, money.Amount(180000), april.CarryoverAmount)
	assert.Equal(t, money.Amount(220000), april.FinalAmount)
	assert.Equal(t, credits[0].ID, april.CreditID)

	st, err := s.store.GetStudent(ctx, demoTenant, "jung")
	require.NoError(t, err)
	assert.Equal(t, academy.StudentActive, st.Status)
}

func TestScenario_SeasonCancel(t *testing.T) {
	// GIVEN: A paid enrollment cancelled after 3 of 18 classes
	// WHEN: Loading the scenario
	// THEN: Two thirds of the fee is refunded and recorded as an expense

	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.handler.loadSeasonCancelScenario(ctx))

	enrollments, err := s.store.ListStudentEnrollments(ctx, demoTenant, "han")
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	e := enrollments[0]
	assert.Equal(t, academy.EnrollmentCancelled, e.Status)
	assert.Equal(t, money.Amount(800000), e.RefundAmount)

	expenses, err := s.store.ListExpenses(ctx, demoTenant)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, money.Amount(800000), expenses[0].Amount)
}

func TestLoadScenario_ResetsPreviousData(t *testing.T) {
	// GIVEN: The rest-credit scenario is loaded
	// WHEN: Loading the mid-season scenario over the API
	// THEN: Only the new scenario's data remains and it is reported as current

	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "rest-credit"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "mid-season-join"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err := s.store.GetStudent(context.Background(), demoTenant, "jung")
	assert.True(t, academy.IsNotFound(err))

	var current ScenarioDTO
	s.do(http.MethodGet, "/api/scenarios/current", nil, &current)
	assert.Equal(t, "mid-season-join", current.ID)

	rec = s.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": sc.ID}, nil)
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		})
	}
}

func TestResetStore(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.handler.loadMidSeasonJoinScenario(context.Background()))

	rec := s.do(http.MethodPost, "/api/reset", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	tenants, err := s.store.ListTenants(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tenants)
}
