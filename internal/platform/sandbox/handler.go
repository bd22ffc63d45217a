package sandbox

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medibill/medibill/internal/platform/auth"
)

// maxGeneratedAccounts bounds a single synthetic seed request.
const maxGeneratedAccounts = 500

// SeedHandler provides HTTP endpoints for loading demo data.
type SeedHandler struct {
	seeder *Seeder
}

func NewSeedHandler(seeder *Seeder) *SeedHandler {
	return &SeedHandler{seeder: seeder}
}

// RegisterRoutes registers sandbox routes on the given group. Only admins
// may seed.
func (h *SeedHandler) RegisterRoutes(g *echo.Group) {
	sb := g.Group("/sandbox", auth.RequireRole(auth.RoleAdmin))
	sb.POST("/seed", h.handleSeed)
	sb.POST("/fixtures", h.handleFixture)
}

func (h *SeedHandler) handleSeed(c echo.Context) error {
	cfg := DefaultSeedConfig()
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&cfg); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid seed config: "+err.Error())
		}
	}
	if cfg.AccountCount <= 0 || cfg.AccountCount > maxGeneratedAccounts {
		return echo.NewHTTPError(http.StatusBadRequest, "account_count must be between 1 and 500")
	}
	if cfg.ChildrenMax < 0 || cfg.BillsPerAccount < 0 || cfg.ItemsPerBill < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "counts must not be negative")
	}

	fixture := NewDataGenerator(cfg.Seed).Generate(cfg)
	res, err := h.seeder.Load(c.Request().Context(), fixture)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *SeedHandler) handleFixture(c echo.Context) error {
	var f Fixture
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid fixture: "+err.Error())
	}
	if len(f.Accounts) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "fixture has no accounts")
	}
	res, err := h.seeder.Load(c.Request().Context(), &f)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, res)
}
