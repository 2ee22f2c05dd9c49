package trading

import (
	"errors"
	"time"

	"rectrade-backend/internal/domain"
	"rectrade-backend/internal/escrow"
	"rectrade-backend/internal/ledger"
	"rectrade-backend/internal/matching"
	"rectrade-backend/internal/middleware"
	"rectrade-backend/internal/pkg/response"
	"rectrade-backend/internal/settlement"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers adapts the trading service to HTTP.
type Handlers struct {
	Service *Service
}

type submitOrderBody struct {
	Side             string     `json:"side"`
	FacilityID       string     `json:"facility_id"`
	EnergyType       string     `json:"energy_type"`
	VintageYear      int        `json:"vintage_year"`
	Emirate          string     `json:"emirate"`
	Standard         string     `json:"standard"`
	HoldingID        string     `json:"holding_id"`
	Quantity         int64      `json:"quantity"`
	PriceFils        int64      `json:"price_fils"`
	AllowPartialFill *bool      `json:"allow_partial_fill"`
	MinFillQuantity  int64      `json:"min_fill_quantity"`
	ExpiresAt        *time.Time `json:"expires_at"`
}

// SubmitOrder handles POST /api/v1/orders.
func (h *Handlers) SubmitOrder(c *fiber.Ctx) error {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body submitOrderBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest)
	}

	req := matching.SubmitRequest{
		AccountID:       accountID,
		Side:            body.Side,
		Quantity:        body.Quantity,
		PriceFils:       body.PriceFils,
		MinFillQuantity: body.MinFillQuantity,
		ExpiresAt:       body.ExpiresAt,
		// Partial fills are allowed unless explicitly disabled.
		AllowPartialFill: body.AllowPartialFill == nil || *body.AllowPartialFill,
	}
	if body.HoldingID != "" {
		id, err := uuid.Parse(body.HoldingID)
		if err != nil {
			return response.Error(c, "Invalid holding_id", fiber.StatusBadRequest)
		}
		req.HoldingID = &id
	}
	if body.FacilityID != "" {
		id, err := uuid.Parse(body.FacilityID)
		if err != nil {
			return response.Error(c, "Invalid facility_id", fiber.StatusBadRequest)
		}
		req.Criteria = domain.CertificateCriteria{
			FacilityID:  id,
			EnergyType:  body.EnergyType,
			VintageYear: body.VintageYear,
			Emirate:     body.Emirate,
			Standard:    body.Standard,
		}
	}

	order, txs, err := h.Service.SubmitOrder(c.Context(), req)
	if err != nil {
		return mapError(c, err)
	}
	return response.SuccessCreated(c, "Order submitted", fiber.Map{
		"order":        order,
		"transactions": txs,
	})
}

// CancelOrder handles DELETE /api/v1/orders/:id.
func (h *Handlers) CancelOrder(c *fiber.Ctx) error {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "Invalid order id", fiber.StatusBadRequest)
	}
	order, err := h.Service.CancelOrder(c.Context(), accountID, orderID)
	if err != nil {
		return mapError(c, err)
	}
	return response.Success(c, "Order cancelled", order)
}

// GetOrderBook handles GET /api/v1/orderbook.
func (h *Handlers) GetOrderBook(c *fiber.Ctx) error {
	facilityID, err := uuid.Parse(c.Query("facility_id"))
	if err != nil {
		return response.Error(c, "Invalid facility_id", fiber.StatusBadRequest)
	}
	vintage := c.QueryInt("vintage_year")
	criteria := domain.CertificateCriteria{
		FacilityID:  facilityID,
		EnergyType:  c.Query("energy_type"),
		VintageYear: vintage,
		Emirate:     c.Query("emirate"),
		Standard:    c.Query("standard", "I-REC"),
	}
	return response.Success(c, "Order book", h.Service.GetOrderBook(criteria))
}

// GetOrder handles GET /api/v1/orders/:id.
func (h *Handlers) GetOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "Invalid order id", fiber.StatusBadRequest)
	}
	order, err := h.Service.GetOrder(c.Context(), id)
	if err != nil {
		return mapError(c, err)
	}
	return response.Success(c, "Order", order)
}

// GetTransaction handles GET /api/v1/transactions/:id.
func (h *Handlers) GetTransaction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "Invalid transaction id", fiber.StatusBadRequest)
	}
	tx, err := h.Service.GetTransaction(c.Context(), id)
	if err != nil {
		return mapError(c, err)
	}
	return response.Success(c, "Transaction", tx)
}

// GetAccountBalances handles GET /api/v1/accounts/balances.
func (h *Handlers) GetAccountBalances(c *fiber.Ctx) error {
	accountID, ok := middleware.AccountID(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	balances, err := h.Service.GetAccountBalances(c.Context(), accountID)
	if err != nil {
		return mapError(c, err)
	}
	return response.Success(c, "Balances", balances)
}

func mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, matching.ErrValidation):
		return response.Error(c, err.Error(), fiber.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientInventory):
		return response.Error(c, err.Error(), fiber.StatusUnprocessableEntity)
	case errors.Is(err, escrow.ErrHoldingMismatch),
		errors.Is(err, matching.ErrNotOrderOwner):
		return response.Error(c, err.Error(), fiber.StatusForbidden)
	case errors.Is(err, escrow.ErrHoldingInactive),
		errors.Is(err, matching.ErrOrderNotOpen):
		return response.Error(c, err.Error(), fiber.StatusConflict)
	case errors.Is(err, matching.ErrOrderNotFound),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrHoldingNotFound):
		return response.Error(c, err.Error(), fiber.StatusNotFound)
	case errors.Is(err, settlement.ErrSettlementRetryExhausted):
		return response.Error(c, err.Error(), fiber.StatusServiceUnavailable)
	default:
		return response.Error(c, "Internal Server Error", fiber.StatusInternalServerError)
	}
}
