package coverage

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/internal/domain/account"
	"github.com/medibill/medibill/internal/platform/auth"
	"github.com/medibill/medibill/pkg/dateutil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleMember))
	g.POST("/coverage/calculate", h.Calculate)
	g.GET("/members/:id/policies", h.ListMemberPolicies)
	g.GET("/policies/:id", h.GetPolicy)
	g.POST("/policies/:id/primary", h.SetPrimaryPolicy)
}

type CalculateRequest struct {
	MemberID        string          `json:"member_id"`
	ServiceType     string          `json:"service_type"`
	ServiceCategory string          `json:"service_category,omitempty"`
	ProviderID      string          `json:"provider_id"`
	ServiceDate     string          `json:"service_date"`
	BilledAmount    decimal.Decimal `json:"billed_amount"`
}

func (r CalculateRequest) claim() (Claim, error) {
	memberID, err := uuid.Parse(r.MemberID)
	if err != nil {
		return Claim{}, echo.NewHTTPError(http.StatusBadRequest, "invalid member_id")
	}
	day, err := dateutil.Parse(r.ServiceDate)
	if err != nil {
		return Claim{}, echo.NewHTTPError(http.StatusBadRequest, "service_date must be YYYY-MM-DD")
	}
	return Claim{
		MemberID:     memberID,
		ServiceType:  r.ServiceType,
		Category:     Category(r.ServiceCategory),
		ProviderID:   r.ProviderID,
		ServiceDate:  day,
		BilledAmount: r.BilledAmount,
	}, nil
}

func (h *Handler) Calculate(c echo.Context) error {
	var req CalculateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := req.claim()
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.authorizeMember(ctx, claim.MemberID); err != nil {
		return err
	}
	res, err := h.svc.CalculateCoverage(ctx, claim)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListMemberPolicies(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.authorizeMember(ctx, id); err != nil {
		return err
	}
	policies, err := h.svc.ListMemberPolicies(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if policies == nil {
		policies = []*Policy{}
	}
	return c.JSON(http.StatusOK, policies)
}

func (h *Handler) GetPolicy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.GetPolicy(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if err := h.authorizeMember(ctx, p.MemberID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SetPrimaryPolicy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.GetPolicy(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if err := h.authorizeMember(ctx, p.MemberID); err != nil {
		return err
	}
	p, err = h.svc.SetPrimaryPolicy(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// authorizeMember checks the caller may act for the member's account.
func (h *Handler) authorizeMember(ctx context.Context, memberID uuid.UUID) error {
	if auth.HasRole(ctx, auth.RoleBilling) {
		return nil
	}
	m, err := h.svc.GetMember(ctx, memberID)
	if err != nil {
		return httpError(err)
	}
	if !auth.CanAccessAccount(ctx, m.AccountID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "account access denied")
	}
	return nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidClaim):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPolicyNotFound), errors.Is(err, account.ErrMemberNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return err
	}
}
