package handlers

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/lean98av/kipubank/libs/auth"
	"github.com/lean98av/kipubank/libs/httpmiddleware"
	"github.com/lean98av/kipubank/services/bank/internal/engine"
	"github.com/lean98av/kipubank/services/bank/internal/oracle"
	"github.com/lean98av/kipubank/services/bank/internal/rate"
	"github.com/lean98av/kipubank/services/bank/internal/storage"
	"log/slog"
)

// Vault is the slice of the ledger engine the HTTP surface consumes.
type Vault interface {
	CreateAccount(ctx context.Context, principal common.Address, name, email string, initialDeposit uint64) error
	DepositNative(ctx context.Context, principal common.Address, amount uint64) error
	DepositToken(ctx context.Context, principal, asset common.Address, amount uint64) error
	WithdrawNative(ctx context.Context, principal common.Address, amount uint64) error
	WithdrawToken(ctx context.Context, principal, asset common.Address, amount uint64) error
	SetToken(ctx context.Context, caller, asset common.Address, desc engine.TokenDescriptor) error
	GrantRole(granter, principal common.Address) error
	BalanceOf(principal, asset common.Address) (uint64, error)
	DisplayAmount(asset common.Address, amount uint64) string
	DepositCount() uint64
	WithdrawCount() uint64
	TotalNative() uint64
}

// Converter values native amounts against the reference price feed.
type Converter interface {
	LatestNativePrice(ctx context.Context) (*big.Int, time.Time, error)
	ConvertNative(ctx context.Context, amount uint64) (uint64, error)
}

// Auditor records operation outcomes and serves them back per principal.
// Recording must be best effort.
type Auditor interface {
	RecordAudit(ctx context.Context, rec storage.AuditRecord)
	ListRecent(ctx context.Context, principal string, limit int) ([]storage.AuditRecord, error)
}

type Handler struct {
	Vault     Vault
	Converter Converter
	Limiter   rate.Limiter
	Audit     Auditor
	Logger    *slog.Logger
}

type createAccountRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	InitialDeposit uint64 `json:"initial_deposit"`
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type setTokenRequest struct {
	Supported  bool   `json:"supported"`
	ValueScale uint8  `json:"value_scale"`
	OracleRef  string `json:"oracle_ref"`
}

type grantRoleRequest struct {
	Principal string `json:"principal"`
}

type balanceResponse struct {
	Principal string `json:"principal"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Display   string `json:"display"`
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func New(vault Vault, converter Converter, limiter rate.Limiter, audit Auditor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Vault: vault, Converter: converter, Limiter: limiter, Audit: audit, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	authed := r.Group("/", auth.Middleware(jwtSecret))
	authed.GET("/accounts/:principal/balances/:asset", h.GetBalance)
	authed.GET("/accounts/:principal/audit", h.GetAudit)
	authed.GET("/price", h.GetPrice)
	authed.GET("/price/convert", h.ConvertPrice)
	authed.GET("/stats", h.GetStats)

	mutating := authed.Group("/", h.rateLimit())
	mutating.POST("/accounts", h.CreateAccount)
	mutating.POST("/deposits", h.DepositNative)
	mutating.POST("/tokens/:asset/deposits", h.DepositToken)
	mutating.POST("/withdrawals", h.WithdrawNative)
	mutating.POST("/tokens/:asset/withdrawals", h.WithdrawToken)
	mutating.PUT("/admin/tokens/:asset", h.SetToken)
	mutating.POST("/admin/roles", h.GrantRole)
}

// rateLimit gates mutating routes per principal. Limiter failures fail open;
// throttling must not take deposits down with it.
func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Limiter == nil {
			c.Next()
			return
		}
		principal, ok := auth.PrincipalFrom(c)
		if !ok {
			c.Next()
			return
		}

		allowed, retryAfter, err := h.Limiter.Allow(c.Request.Context(), principal, time.Now())
		if err != nil {
			h.Logger.Warn("rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		if !allowed {
			seconds := int(retryAfter / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "too many requests"})
			return
		}
		c.Next()
	}
}

func (h *Handler) CreateAccount(c *gin.Context) {
	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing principal", nil)
		return
	}

	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	err := h.Vault.CreateAccount(c.Request.Context(), principal, strings.TrimSpace(req.Name), strings.TrimSpace(req.Email), req.InitialDeposit)
	h.audit(c, "create_account", principal, engine.NativeAsset, req.InitialDeposit, err)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"principal":       principal.Hex(),
		"initial_deposit": strconv.FormatUint(req.InitialDeposit, 10),
	})
}

func (h *Handler) DepositNative(c *gin.Context) {
	h.move(c, engine.NativeAsset, "deposit", h.Vault.DepositNative)
}

func (h *Handler) WithdrawNative(c *gin.Context) {
	h.move(c, engine.NativeAsset, "withdraw", h.Vault.WithdrawNative)
}

func (h *Handler) DepositToken(c *gin.Context) {
	asset, err := parseAssetParam(c.Param("asset"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid asset", nil)
		return
	}
	h.move(c, asset, "deposit", func(ctx context.Context, principal common.Address, amount uint64) error {
		return h.Vault.DepositToken(ctx, principal, asset, amount)
	})
}

func (h *Handler) WithdrawToken(c *gin.Context) {
	asset, err := parseAssetParam(c.Param("asset"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid asset", nil)
		return
	}
	h.move(c, asset, "withdraw", func(ctx context.Context, principal common.Address, amount uint64) error {
		return h.Vault.WithdrawToken(ctx, principal, asset, amount)
	})
}

// move is the shared body of the four balance-moving routes.
func (h *Handler) move(c *gin.Context, asset common.Address, op string, apply func(context.Context, common.Address, uint64) error) {
	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing principal", nil)
		return
	}

	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	err := apply(c.Request.Context(), principal, req.Amount)
	h.audit(c, op, principal, asset, req.Amount, err)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}

	balance, berr := h.Vault.BalanceOf(principal, asset)
	if berr != nil {
		h.Logger.Error("balance read after move failed", "op", op, "error", berr)
	}

	c.JSON(http.StatusOK, balanceResponse{
		Principal: principal.Hex(),
		Asset:     asset.Hex(),
		Amount:    strconv.FormatUint(balance, 10),
		Display:   h.Vault.DisplayAmount(asset, balance),
	})
}

func (h *Handler) SetToken(c *gin.Context) {
	caller, ok := auth.PrincipalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing principal", nil)
		return
	}

	asset, err := parseAssetParam(c.Param("asset"))
	if err != nil || asset == engine.NativeAsset {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid asset", nil)
		return
	}

	var req setTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	var oracleRef common.Address
	if trimmed := strings.TrimSpace(req.OracleRef); trimmed != "" {
		if !common.IsHexAddress(trimmed) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid oracle_ref", nil)
			return
		}
		oracleRef = common.HexToAddress(trimmed)
	}

	desc := engine.TokenDescriptor{
		Supported:  req.Supported,
		ValueScale: req.ValueScale,
		OracleRef:  oracleRef,
	}
	if err := h.Vault.SetToken(c.Request.Context(), caller, asset, desc); err != nil {
		h.writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"asset":       asset.Hex(),
		"supported":   desc.Supported,
		"value_scale": desc.ValueScale,
		"oracle_ref":  desc.OracleRef.Hex(),
	})
}

func (h *Handler) GrantRole(c *gin.Context) {
	granter, ok := auth.PrincipalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing principal", nil)
		return
	}

	var req grantRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil || !common.IsHexAddress(strings.TrimSpace(req.Principal)) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid principal", nil)
		return
	}

	grantee := common.HexToAddress(strings.TrimSpace(req.Principal))
	if err := h.Vault.GrantRole(granter, grantee); err != nil {
		h.writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"principal": grantee.Hex(), "role": "admin"})
}

func (h *Handler) GetBalance(c *gin.Context) {
	caller, ok := auth.PrincipalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing principal", nil)
		return
	}

	if !common.IsHexAddress(c.Param("principal")) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid principal", nil)
		return
	}
	principal := common.HexToAddress(c.Param("principal"))
	if principal != caller {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "not your account", nil)
		return
	}

	asset, err := parseAssetParam(c.Param("asset"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid asset", nil)
		return
	}

	balance, err := h.Vault.BalanceOf(principal, asset)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, balanceResponse{
		Principal: principal.Hex(),
		Asset:     asset.Hex(),
		Amount:    strconv.FormatUint(balance, 10),
		Display:   h.Vault.DisplayAmount(asset, balance),
	})
}

type auditItem struct {
	Operation     string `json:"operation"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func (h *Handler) GetAudit(c *gin.Context) {
	caller, ok := auth.PrincipalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing principal", nil)
		return
	}
	if h.Audit == nil {
		writeError(c, http.StatusServiceUnavailable, "AUDIT_UNAVAILABLE", "audit trail not configured", nil)
		return
	}

	if !common.IsHexAddress(c.Param("principal")) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid principal", nil)
		return
	}
	principal := common.HexToAddress(c.Param("principal"))
	if principal != caller {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "not your account", nil)
		return
	}

	limit := 0
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
			return
		}
		limit = n
	}

	records, err := h.Audit.ListRecent(c.Request.Context(), principal.Hex(), limit)
	if err != nil {
		h.Logger.Error("audit list failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	items := make([]auditItem, 0, len(records))
	for _, rec := range records {
		items = append(items, auditItem{
			Operation:     rec.Operation,
			Asset:         rec.Asset,
			Amount:        rec.Amount,
			Status:        rec.Status,
			Reason:        rec.Reason,
			CorrelationID: rec.CorrelationID,
			CreatedAt:     rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"records": items})
}

func (h *Handler) GetPrice(c *gin.Context) {
	if h.Converter == nil {
		writeError(c, http.StatusServiceUnavailable, "ORACLE_UNAVAILABLE", "price feed not configured", nil)
		return
	}

	price, updatedAt, err := h.Converter.LatestNativePrice(c.Request.Context())
	if err != nil {
		h.Logger.Error("price read failed", "error", err)
		writeError(c, http.StatusBadGateway, "ORACLE_ERROR", "price feed unavailable", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"price":      price.String(),
		"updated_at": updatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) ConvertPrice(c *gin.Context) {
	if h.Converter == nil {
		writeError(c, http.StatusServiceUnavailable, "ORACLE_UNAVAILABLE", "price feed not configured", nil)
		return
	}

	amount, err := strconv.ParseUint(strings.TrimSpace(c.Query("amount")), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid amount", nil)
		return
	}

	value, err := h.Converter.ConvertNative(c.Request.Context(), amount)
	if err != nil {
		switch {
		case errors.Is(err, oracle.ErrInvalidPrice):
			writeError(c, http.StatusBadGateway, "ORACLE_ERROR", "feed price not positive", nil)
		case errors.Is(err, oracle.ErrValueOutOfRange):
			writeError(c, http.StatusBadRequest, "VALUE_OUT_OF_RANGE", "converted value out of range", nil)
		default:
			h.Logger.Error("conversion failed", "error", err)
			writeError(c, http.StatusBadGateway, "ORACLE_ERROR", "price feed unavailable", nil)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"amount": strconv.FormatUint(amount, 10),
		"value":  strconv.FormatUint(value, 10),
	})
}

func (h *Handler) GetStats(c *gin.Context) {
	total := h.Vault.TotalNative()
	c.JSON(http.StatusOK, gin.H{
		"deposits":             h.Vault.DepositCount(),
		"withdrawals":          h.Vault.WithdrawCount(),
		"total_native":         strconv.FormatUint(total, 10),
		"total_native_display": h.Vault.DisplayAmount(engine.NativeAsset, total),
	})
}

func (h *Handler) writeEngineError(c *gin.Context, err error) {
	var limitErr *engine.ExceedWithdrawAmountError
	var fundsErr *engine.InsufficientFundsError

	switch {
	case errors.As(err, &limitErr):
		writeError(c, http.StatusBadRequest, "WITHDRAW_LIMIT_EXCEEDED", "withdrawal exceeds per-transaction limit", map[string]string{
			"limit":     strconv.FormatUint(limitErr.Limit, 10),
			"requested": strconv.FormatUint(limitErr.Requested, 10),
		})
	case errors.As(err, &fundsErr):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_FUNDS", "insufficient funds", map[string]string{
			"available": strconv.FormatUint(fundsErr.Available, 10),
			"requested": strconv.FormatUint(fundsErr.Requested, 10),
		})
	case errors.Is(err, engine.ErrAccountAlreadyExists):
		writeError(c, http.StatusConflict, "ACCOUNT_EXISTS", "account already exists", nil)
	case errors.Is(err, engine.ErrAccountNotExists):
		writeError(c, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "account does not exist", nil)
	case errors.Is(err, engine.ErrExceedBankCap):
		writeError(c, http.StatusBadRequest, "BANK_CAP_EXCEEDED", "deposit exceeds bank cap", nil)
	case errors.Is(err, engine.ErrInvalidDeposit):
		writeError(c, http.StatusBadRequest, "INVALID_DEPOSIT", "invalid deposit amount", nil)
	case errors.Is(err, engine.ErrTokenNotSupported):
		writeError(c, http.StatusBadRequest, "TOKEN_NOT_SUPPORTED", "token not supported", nil)
	case errors.Is(err, engine.ErrReentrant):
		writeError(c, http.StatusConflict, "CONFLICT", "operation already in progress", nil)
	case errors.Is(err, engine.ErrTransferFailed):
		writeError(c, http.StatusBadGateway, "TRANSFER_FAILED", "fund transfer failed", nil)
	case errors.Is(err, engine.ErrUnauthorized):
		writeError(c, http.StatusForbidden, "FORBIDDEN", "admin role required", nil)
	default:
		h.Logger.Error("operation failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func (h *Handler) audit(c *gin.Context, op string, principal, asset common.Address, amount uint64, opErr error) {
	if h.Audit == nil {
		return
	}
	status := "success"
	reason := ""
	if opErr != nil {
		status = "rejected"
		reason = opErr.Error()
	}
	h.Audit.RecordAudit(c.Request.Context(), storage.AuditRecord{
		Operation:     op,
		Principal:     principal.Hex(),
		Asset:         asset.Hex(),
		Amount:        strconv.FormatUint(amount, 10),
		Status:        status,
		Reason:        reason,
		CorrelationID: httpmiddleware.RequestIDFrom(c),
	})
}

func parseAssetParam(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if strings.EqualFold(trimmed, "native") {
		return engine.NativeAsset, nil
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, errors.New("invalid asset address")
	}
	return common.HexToAddress(trimmed), nil
}

func writeError(c *gin.Context, status int, code, message string, details map[string]string) {
	c.JSON(status, errorResponse{Code: code, Message: message, Details: details})
}
