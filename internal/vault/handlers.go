package vault

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/vault-api/internal/types"
	"github.com/ksred/vault-api/pkg/response"
)

// GinHandlers exposes the vault operations over HTTP. The vault owner
// is always the authenticated client; liquidation targets another
// owner by path parameter.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.AmountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request format")
			return
		}

		snap, err := h.service.Deposit(c.Request.Context(), c.GetString("clientID"), req.AssetID, req.Amount)
		response.Handle(c, snap, err)
	}
}

func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.AmountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request format")
			return
		}

		snap, err := h.service.Withdraw(c.Request.Context(), c.GetString("clientID"), req.AssetID, req.Amount)
		response.Handle(c, snap, err)
	}
}

func (h *GinHandlers) BorrowHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.AmountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request format")
			return
		}

		snap, err := h.service.Borrow(c.Request.Context(), c.GetString("clientID"), req.AssetID, req.Amount)
		response.Handle(c, snap, err)
	}
}

func (h *GinHandlers) RepayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.AmountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request format")
			return
		}

		snap, err := h.service.Repay(c.Request.Context(), c.GetString("clientID"), req.AssetID, req.Amount)
		response.Handle(c, snap, err)
	}
}

func (h *GinHandlers) CloseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := h.service.Close(c.Request.Context(), c.GetString("clientID"))
		response.Handle(c, snap, err)
	}
}

func (h *GinHandlers) GetVaultHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := h.service.GetSnapshot(c.Request.Context(), c.GetString("clientID"))
		response.Handle(c, snap, err)
	}
}

func (h *GinHandlers) GetRatioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := h.service.GetCollateralRatio(c.Request.Context(), c.GetString("clientID"))
		response.Handle(c, view, err)
	}
}

func (h *GinHandlers) GetAvailableToBorrowHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := h.service.GetAvailableToBorrow(c.Request.Context(), c.GetString("clientID"))
		response.Handle(c, view, err)
	}
}

func (h *GinHandlers) GetAvailableToWithdrawHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := h.service.GetAvailableToWithdraw(c.Request.Context(), c.GetString("clientID"))
		response.Handle(c, view, err)
	}
}

func (h *GinHandlers) LiquidateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.Param("owner")
		if owner == "" {
			response.BadRequest(c, "Vault owner is required")
			return
		}

		var req types.LiquidateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request format")
			return
		}

		outcome, err := h.service.Liquidate(c.Request.Context(), c.GetString("clientID"), owner, req.AssetID, req.Amount)
		response.Handle(c, outcome, err)
	}
}

func (h *GinHandlers) GetLiquidationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.Param("owner")
		if owner == "" {
			response.BadRequest(c, "Vault owner is required")
			return
		}

		records, err := h.service.GetLiquidations(owner)
		response.Handle(c, gin.H{
			"vault_owner":  owner,
			"liquidations": records,
		}, err)
	}
}

func (h *GinHandlers) GetStatisticsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.service.GetStatistics(c.Request.Context())
		response.Handle(c, stats, err)
	}
}
