package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibill/medibill/internal/domain/account"
	"github.com/medibill/medibill/internal/platform/auth"
)

func asCaller(req *http.Request, accountID string, roles ...string) *http.Request {
	ctx := context.WithValue(req.Context(), auth.UserRolesKey, roles)
	ctx = context.WithValue(ctx, auth.AccountIDKey, accountID)
	return req.WithContext(ctx)
}

func newHandlerFixture(t *testing.T) (*Handler, *world, *Bill, *echo.Echo) {
	t.Helper()
	w := newWorld(account.SplitDefault)
	svc := w.service(AttributeByMember)
	b := w.seedBill(t, svc)
	return NewHandler(svc), w, b, echo.New()
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != code {
		t.Errorf("expected %d, got %v", code, err)
	}
}

func TestHandler_SplitBill(t *testing.T) {
	h, w, b, e := newHandlerFixture(t)

	req := asCaller(httptest.NewRequest(http.MethodPost, "/", nil), w.account.ID.String(), auth.RoleMember)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.SplitBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"strategy":"DEFAULT"`) {
		t.Errorf("expected strategy in body, got %s", body)
	}
	if !strings.Contains(body, `"total_personal_responsibility":"620"`) {
		t.Errorf("expected personal responsibility 620 in body, got %s", body)
	}
}

func TestHandler_SplitBill_OtherAccountForbidden(t *testing.T) {
	h, _, b, e := newHandlerFixture(t)

	req := asCaller(httptest.NewRequest(http.MethodPost, "/", nil), uuid.NewString(), auth.RoleMember)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	expectStatus(t, h.SplitBill(c), http.StatusForbidden)
}

func TestHandler_SplitBill_NoAdultsConflict(t *testing.T) {
	h, w, b, e := newHandlerFixture(t)
	w.ana.Active = false
	w.luis.Active = false

	req := asCaller(httptest.NewRequest(http.MethodPost, "/", nil), "", auth.RoleBilling)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	expectStatus(t, h.SplitBill(c), http.StatusConflict)
}

func TestHandler_GetBill_NotFound(t *testing.T) {
	h, _, _, e := newHandlerFixture(t)
	req := asCaller(httptest.NewRequest(http.MethodGet, "/", nil), "", auth.RoleBilling)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())

	expectStatus(t, h.GetBill(c), http.StatusNotFound)
}

func TestHandler_GetBill_InvalidID(t *testing.T) {
	h, _, _, e := newHandlerFixture(t)
	req := asCaller(httptest.NewRequest(http.MethodGet, "/", nil), "", auth.RoleBilling)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	expectStatus(t, h.GetBill(c), http.StatusBadRequest)
}

func TestHandler_ListBills_MemberScopedToOwnAccount(t *testing.T) {
	h, w, _, e := newHandlerFixture(t)

	req := asCaller(httptest.NewRequest(http.MethodGet, "/?account_id="+uuid.NewString(), nil), w.account.ID.String(), auth.RoleMember)
	c := e.NewContext(req, httptest.NewRecorder())
	expectStatus(t, h.ListBills(c), http.StatusForbidden)

	req = asCaller(httptest.NewRequest(http.MethodGet, "/", nil), w.account.ID.String(), auth.RoleMember)
	rec := httptest.NewRecorder()
	c = e.NewContext(req, rec)
	if err := h.ListBills(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one bill, got %s", rec.Body.String())
	}
}

func TestHandler_RecordPayment(t *testing.T) {
	h, w, b, e := newHandlerFixture(t)
	if _, err := h.svc.SplitBill(context.Background(), b.ID); err != nil {
		t.Fatalf("split: %v", err)
	}
	share := shareFor(w.shares.items, w.ana.ID)

	body := `{"amount":"50.00","method":"CARD"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asCaller(req, w.account.ID.String(), auth.RoleMember)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(share.ID.String())

	if err := h.RecordPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"COMPLETED"`) {
		t.Errorf("expected COMPLETED payment, got %s", rec.Body.String())
	}
}

func TestHandler_RecordPayment_Overpayment(t *testing.T) {
	h, w, b, e := newHandlerFixture(t)
	h.svc.SplitBill(context.Background(), b.ID)
	share := shareFor(w.shares.items, w.ana.ID)

	body := `{"amount":"9999","method":"CARD"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asCaller(req, "", auth.RoleBilling)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(share.ID.String())

	expectStatus(t, h.RecordPayment(c), http.StatusBadRequest)
}

func TestHandler_OpenAndResolveDispute(t *testing.T) {
	h, w, b, e := newHandlerFixture(t)
	h.svc.SplitBill(context.Background(), b.ID)

	body := `{"member_id":"` + w.luis.ID.String() + `","reason":"not my visit"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asCaller(req, w.account.ID.String(), auth.RoleMember)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.OpenDispute(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	disputeID := w.disputes.items[0].ID

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"resolution":"confirmed"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asCaller(req, "", auth.RoleBilling)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(disputeID.String())

	if err := h.ResolveDispute(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"RESOLVED"`) {
		t.Errorf("expected RESOLVED, got %s", rec.Body.String())
	}
}

func TestHandler_OpenDispute_InvalidMember(t *testing.T) {
	h, _, b, e := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"member_id":"nope","reason":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asCaller(req, "", auth.RoleBilling)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	expectStatus(t, h.OpenDispute(c), http.StatusBadRequest)
}

func TestHttpError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{ErrNoAdults, http.StatusConflict},
		{ErrBillHasPayments, http.StatusConflict},
		{ErrInvalidPercentages, http.StatusBadRequest},
		{ErrBillNotFound, http.StatusNotFound},
		{account.ErrMemberNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		expectStatus(t, httpError(tt.err), tt.code)
	}
}
