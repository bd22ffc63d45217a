package coverage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/internal/platform/auth"
)

func newTestHandler() (*Handler, *Service, *testRepos, *echo.Echo) {
	svc, r := newTestService()
	return NewHandler(svc), svc, r, echo.New()
}

func asCaller(req *http.Request, accountID string, roles ...string) *http.Request {
	ctx := context.WithValue(req.Context(), auth.UserRolesKey, roles)
	ctx = context.WithValue(ctx, auth.AccountIDKey, accountID)
	return req.WithContext(ctx)
}

func seedCoveredMember(t *testing.T, svc *Service, r *testRepos) (memberID uuid.UUID, accountID uuid.UUID, policyID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	m := seedMember(r)
	p := validPolicy(m.ID)
	p.IsPrimary = true
	if err := svc.CreatePolicy(ctx, p); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	svc.AddRule(ctx, &Rule{PolicyID: p.ID, ServiceType: "OFFICE_VISIT", CoveragePercent: decimal.NewNullDecimal(decimal.NewFromInt(80))})
	svc.AddNetworkContract(ctx, &NetworkContract{PolicyID: p.ID, ProviderID: "1234567890", ContractStart: p.EffectiveDate})
	return m.ID, m.AccountID, p.ID
}

func TestHandler_Calculate(t *testing.T) {
	h, svc, r, e := newTestHandler()
	memberID, accountID, _ := seedCoveredMember(t, svc, r)

	body := `{"member_id":"` + memberID.String() + `","service_type":"OFFICE_VISIT","provider_id":"1234567890","service_date":"2024-03-01","billed_amount":"1000.00"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asCaller(req, accountID.String(), auth.RoleMember)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Calculate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"total_covered":"400"`) {
		t.Errorf("expected total_covered 400 in body, got %s", rec.Body.String())
	}
}

func TestHandler_Calculate_BadDate(t *testing.T) {
	h, _, _, e := newTestHandler()
	body := `{"member_id":"` + uuid.NewString() + `","service_type":"X","provider_id":"1","service_date":"03/01/2024","billed_amount":"10"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asCaller(req, "", auth.RoleBilling)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Calculate(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Calculate_InvalidClaim(t *testing.T) {
	h, svc, r, e := newTestHandler()
	memberID, _, _ := seedCoveredMember(t, svc, r)

	body := `{"member_id":"` + memberID.String() + `","service_type":"OFFICE_VISIT","provider_id":"1234567890","service_date":"2024-03-01","billed_amount":"0"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asCaller(req, "", auth.RoleBilling)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Calculate(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Calculate_OtherAccountForbidden(t *testing.T) {
	h, svc, r, e := newTestHandler()
	memberID, _, _ := seedCoveredMember(t, svc, r)

	body := `{"member_id":"` + memberID.String() + `","service_type":"OFFICE_VISIT","provider_id":"1234567890","service_date":"2024-03-01","billed_amount":"10"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asCaller(req, uuid.NewString(), auth.RoleMember)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Calculate(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestHandler_SetPrimaryPolicy(t *testing.T) {
	h, svc, r, e := newTestHandler()
	_, _, policyID := seedCoveredMember(t, svc, r)

	req := asCaller(httptest.NewRequest(http.MethodPost, "/", nil), "", auth.RoleBilling)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(policyID.String())

	if err := h.SetPrimaryPolicy(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetPolicy_NotFound(t *testing.T) {
	h, _, _, e := newTestHandler()
	req := asCaller(httptest.NewRequest(http.MethodGet, "/", nil), "", auth.RoleBilling)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())

	err := h.GetPolicy(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
