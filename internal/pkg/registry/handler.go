package registry

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vreid/kessen/internal/pkg/common"
)

func (s *RegistryService) Routes(g *echo.Group, requireIdentity echo.MiddlewareFunc) {
	g.POST("/tokens", s.PostMint, requireIdentity)
	g.POST("/tokens/:id/transfer", s.PostTransfer, requireIdentity)
	g.POST("/tokens/:id/approve", s.PostApprove, requireIdentity)
	g.POST("/operators", s.PostOperator, requireIdentity)

	g.GET("/tokens/:id", s.GetTokenHandler)
	g.GET("/supply", s.GetSupply)
	g.GET("/accounts/:account/balance", s.GetBalance)
	g.GET("/accounts/:account/operators/:operator", s.GetOperator)
}

func (s *RegistryService) PostMint(c echo.Context) error {
	identity, _ := common.IdentityFromContext(c)

	var request MintRequest

	err := c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	tokenID, err := s.Mint(identity, request.Recipient, request.URI)
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, map[string]uint64{"token_id": tokenID})
}

func (s *RegistryService) PostTransfer(c echo.Context) error {
	identity, _ := common.IdentityFromContext(c)

	tokenID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid token id")
	}

	var request TransferRequest

	err = c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = s.Transfer(identity, request.From, request.To, tokenID)
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.NoContent(http.StatusNoContent)
}

func (s *RegistryService) PostApprove(c echo.Context) error {
	identity, _ := common.IdentityFromContext(c)

	tokenID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid token id")
	}

	var request ApproveRequest

	err = c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = s.Approve(identity, request.Approved, tokenID)
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.NoContent(http.StatusNoContent)
}

func (s *RegistryService) PostOperator(c echo.Context) error {
	identity, _ := common.IdentityFromContext(c)

	var request OperatorRequest

	err := c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = s.SetApprovalForAll(identity, request.Operator, request.Approved)
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.NoContent(http.StatusNoContent)
}

func (s *RegistryService) GetTokenHandler(c echo.Context) error {
	tokenID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid token id")
	}

	token, err := s.GetToken(tokenID)
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, token)
}

func (s *RegistryService) GetSupply(c echo.Context) error {
	supply, err := s.TotalSupply()
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, map[string]uint64{"total_supply": supply})
}

func (s *RegistryService) GetBalance(c echo.Context) error {
	balance, err := s.BalanceOf(c.Param("account"))
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, map[string]uint64{"balance": balance})
}

func (s *RegistryService) GetOperator(c echo.Context) error {
	approved, err := s.IsApprovedForAll(c.Param("account"), c.Param("operator"))
	if err != nil {
		return common.HTTPError(s.logger(), err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, map[string]bool{"approved": approved})
}
