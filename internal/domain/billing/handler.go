package billing

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibill/medibill/internal/domain/account"
	"github.com/medibill/medibill/internal/domain/coverage"
	"github.com/medibill/medibill/internal/platform/auth"
	"github.com/medibill/medibill/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Account members and billing staff
	g := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleMember))
	g.GET("/bills", h.ListBills)
	g.GET("/bills/:id", h.GetBill)
	g.POST("/bills/:id/split", h.SplitBill)
	g.GET("/bills/:id/shares", h.ListShares)
	g.POST("/bills/:id/disputes", h.OpenDispute)
	g.GET("/bills/:id/disputes", h.ListDisputes)
	g.POST("/shares/:id/payments", h.RecordPayment)
	g.GET("/shares/:id/payments", h.ListPayments)

	// Billing staff only
	staff := api.Group("", auth.RequireRole(auth.RoleBilling))
	staff.POST("/disputes/:id/review", h.ReviewDispute)
	staff.POST("/disputes/:id/resolve", h.ResolveDispute)
}

// -- Bills --

func (h *Handler) ListBills(c echo.Context) error {
	ctx := c.Request().Context()
	var f BillFilter
	if v := c.QueryParam("account_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid account_id")
		}
		f.AccountID = &id
	}
	if !auth.HasRole(ctx, auth.RoleBilling) {
		own, err := uuid.Parse(auth.AccountIDFromContext(ctx))
		if err != nil || (f.AccountID != nil && *f.AccountID != own) {
			return echo.NewHTTPError(http.StatusForbidden, "account access denied")
		}
		f.AccountID = &own
	}
	f.Status = BillStatus(c.QueryParam("status"))

	pg := pagination.FromContext(c)
	bills, total, err := h.svc.ListBills(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bills, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	b, err := h.svc.GetBill(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !auth.CanAccessAccount(ctx, b.AccountID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "account access denied")
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) SplitBill(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.authorizeBill(ctx, id); err != nil {
		return err
	}
	out, err := h.svc.SplitBill(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListShares(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.authorizeBill(ctx, id); err != nil {
		return err
	}
	shares, err := h.svc.ListShares(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if shares == nil {
		shares = []*Share{}
	}
	return c.JSON(http.StatusOK, shares)
}

// -- Payments --

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in PaymentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.authorizeShare(ctx, id); err != nil {
		return err
	}
	p, err := h.svc.RecordPayment(ctx, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.authorizeShare(ctx, id); err != nil {
		return err
	}
	payments, err := h.svc.ListPayments(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if payments == nil {
		payments = []*Payment{}
	}
	return c.JSON(http.StatusOK, payments)
}

// -- Disputes --

type OpenDisputeRequest struct {
	MemberID string `json:"member_id"`
	Reason   string `json:"reason"`
}

func (h *Handler) OpenDispute(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req OpenDisputeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid member_id")
	}
	ctx := c.Request().Context()
	if err := h.authorizeBill(ctx, id); err != nil {
		return err
	}
	d, err := h.svc.OpenDispute(ctx, id, memberID, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDisputes(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.authorizeBill(ctx, id); err != nil {
		return err
	}
	disputes, err := h.svc.ListDisputes(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if disputes == nil {
		disputes = []*Dispute{}
	}
	return c.JSON(http.StatusOK, disputes)
}

func (h *Handler) ReviewDispute(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.ReviewDispute(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

type ResolveDisputeRequest struct {
	Resolution string `json:"resolution"`
}

func (h *Handler) ResolveDispute(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req ResolveDisputeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.ResolveDispute(c.Request().Context(), id, req.Resolution)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

// -- helpers --

func (h *Handler) authorizeBill(ctx context.Context, billID uuid.UUID) error {
	if auth.HasRole(ctx, auth.RoleBilling) {
		return nil
	}
	b, err := h.svc.GetBill(ctx, billID)
	if err != nil {
		return httpError(err)
	}
	if !auth.CanAccessAccount(ctx, b.AccountID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "account access denied")
	}
	return nil
}

func (h *Handler) authorizeShare(ctx context.Context, shareID uuid.UUID) error {
	if auth.HasRole(ctx, auth.RoleBilling) {
		return nil
	}
	sh, err := h.svc.GetShare(ctx, shareID)
	if err != nil {
		return httpError(err)
	}
	return h.authorizeBill(ctx, sh.BillID)
}

// httpError maps domain errors to HTTP statuses. Unmapped errors surface as 500.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, coverage.ErrInvalidClaim):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAccountData), errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrBillNotFound), errors.Is(err, ErrShareNotFound), errors.Is(err, ErrDisputeNotFound),
		errors.Is(err, account.ErrAccountNotFound), errors.Is(err, account.ErrMemberNotFound),
		errors.Is(err, coverage.ErrPolicyNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return err
	}
}
