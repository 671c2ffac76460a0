package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/opencustody/assetvault/internal/amm"
	"github.com/opencustody/assetvault/internal/assets"
	"github.com/opencustody/assetvault/internal/guard"
	"github.com/opencustody/assetvault/internal/pricing"
	"github.com/opencustody/assetvault/internal/rbac"
	"github.com/opencustody/assetvault/internal/vault"
)

// Gateway is the HTTP front for the vault service.
type Gateway struct {
	router      *gin.Engine
	vault       *vault.Service
	hub         *Hub
	jwtSecret   string
	rateLimiter *RateLimiter
}

// Config holds gateway configuration.
type Config struct {
	JWTSecret       string
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// RateLimiter limits requests per client IP over a sliding window.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// New creates a gateway over the vault service, streaming events through
// hub.
func New(cfg Config, svc *vault.Service, hub *Hub) *Gateway {
	g := &Gateway{
		router:    gin.Default(),
		vault:     svc,
		hub:       hub,
		jwtSecret: cfg.JWTSecret,
		rateLimiter: &RateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
	}
	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())

	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1")
	{
		v1.POST("/deposit", g.authMiddleware(), g.deposit)
		v1.POST("/withdraw", g.authMiddleware(), g.withdraw)
		v1.GET("/balance/:asset", g.authMiddleware(), g.getBalance)

		v1.GET("/assets", g.listAssets)
		v1.GET("/assets/:id", g.getAsset)
		v1.POST("/assets", g.authMiddleware(), g.addAsset)
		v1.DELETE("/assets/:id", g.authMiddleware(), g.removeAsset)

		v1.PUT("/limits/capacity", g.authMiddleware(), g.setCapacity)
		v1.PUT("/limits/withdrawal", g.authMiddleware(), g.setWithdrawalLimit)

		v1.POST("/pause", g.authMiddleware(), g.pause)
		v1.POST("/unpause", g.authMiddleware(), g.unpause)

		v1.POST("/roles/grant", g.authMiddleware(), g.grantRole)
		v1.POST("/roles/revoke", g.authMiddleware(), g.revokeRole)

		v1.GET("/ws", g.handleWebSocket)
	}
}

// Handler exposes the router for the HTTP server.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !g.rateLimiter.Allow(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "paused": g.vault.Paused()})
}

// Request types

type operationRequest struct {
	Asset  string `json:"asset" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

type addAssetRequest struct {
	ID         string `json:"id" binding:"required"`
	Decimals   int32  `json:"decimals"`
	SourceKind string `json:"source_kind" binding:"required"`
	SourceRef  string `json:"source_ref" binding:"required"`
}

type limitRequest struct {
	Value string `json:"value" binding:"required"`
}

type roleRequest struct {
	Principal string `json:"principal" binding:"required"`
	Role      string `json:"role" binding:"required"`
}

func (g *Gateway) deposit(c *gin.Context) {
	var req operationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	principal := c.MustGet("principal").(string)
	receipt, err := g.vault.Deposit(c.Request.Context(), principal, req.Asset, amount)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receiptResponse(receipt))
}

func (g *Gateway) withdraw(c *gin.Context) {
	var req operationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	principal := c.MustGet("principal").(string)
	receipt, err := g.vault.Withdraw(c.Request.Context(), principal, req.Asset, amount)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receiptResponse(receipt))
}

func (g *Gateway) getBalance(c *gin.Context) {
	principal := c.MustGet("principal").(string)
	asset := c.Param("asset")
	c.JSON(http.StatusOK, gin.H{
		"principal": principal,
		"asset":     asset,
		"balance":   g.vault.GetBalance(principal, asset).String(),
	})
}

func (g *Gateway) listAssets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"assets": g.vault.ListSupported()})
}

func (g *Gateway) getAsset(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"asset": id, "supported": g.vault.IsSupported(id)})
}

func (g *Gateway) addAsset(c *gin.Context) {
	var req addAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	principal := c.MustGet("principal").(string)
	src := assets.ValuationSource{Kind: assets.SourceKind(req.SourceKind), Ref: req.SourceRef}
	if err := g.vault.AddAsset(c.Request.Context(), principal, req.ID, req.Decimals, src); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"asset": req.ID})
}

func (g *Gateway) removeAsset(c *gin.Context) {
	principal := c.MustGet("principal").(string)
	if err := g.vault.RemoveAsset(c.Request.Context(), principal, c.Param("id")); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": c.Param("id")})
}

func (g *Gateway) setCapacity(c *gin.Context) {
	g.setLimit(c, g.vault.SetCapacity)
}

func (g *Gateway) setWithdrawalLimit(c *gin.Context) {
	g.setLimit(c, g.vault.SetWithdrawalLimit)
}

func (g *Gateway) setLimit(c *gin.Context, set func(ctx context.Context, caller string, v decimal.Decimal) error) {
	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	v, err := decimal.NewFromString(req.Value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid value"})
		return
	}

	principal := c.MustGet("principal").(string)
	if err := set(c.Request.Context(), principal, v); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": v.String()})
}

func (g *Gateway) pause(c *gin.Context) {
	principal := c.MustGet("principal").(string)
	if err := g.vault.Pause(c.Request.Context(), principal); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (g *Gateway) unpause(c *gin.Context) {
	principal := c.MustGet("principal").(string)
	if err := g.vault.Unpause(c.Request.Context(), principal); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (g *Gateway) grantRole(c *gin.Context) {
	g.changeRole(c, g.vault.GrantRole)
}

func (g *Gateway) revokeRole(c *gin.Context) {
	g.changeRole(c, g.vault.RevokeRole)
}

func (g *Gateway) changeRole(c *gin.Context, change func(ctx context.Context, caller, principal string, role rbac.Role) error) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	caller := c.MustGet("principal").(string)
	if err := change(c.Request.Context(), caller, req.Principal, rbac.Role(req.Role)); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": req.Principal, "role": req.Role})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	g.hub.attach(conn)
}

// fail maps vault errors onto HTTP statuses, keeping the structured error
// text in the body.
func (g *Gateway) fail(c *gin.Context, err error) {
	var (
		capErr  *vault.CapacityExceededError
		limErr  *vault.WithdrawalLimitError
		xferErr *vault.TransferError
		slipErr *amm.SlippageError
		feedErr *pricing.PriceFeedError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rbac.ErrUnauthorized), errors.Is(err, guard.ErrPaused):
		status = http.StatusForbidden
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidPrincipal),
		errors.Is(err, assets.ErrInvalidDecimals),
		errors.Is(err, assets.ErrInvalidAsset),
		errors.Is(err, vault.ErrZeroLimit):
		status = http.StatusBadRequest
	case errors.Is(err, assets.ErrUnsupportedAsset):
		status = http.StatusNotFound
	case errors.Is(err, assets.ErrAlreadySupported),
		errors.Is(err, assets.ErrAssetHeld),
		errors.Is(err, assets.ErrBaseAssetRemoval),
		errors.Is(err, guard.ErrReentrantCall):
		status = http.StatusConflict
	case errors.Is(err, vault.ErrInsufficientBalance),
		errors.As(err, &capErr),
		errors.As(err, &limErr),
		errors.Is(err, amm.ErrPairNotFound),
		errors.Is(err, amm.ErrInsufficientLiquidity),
		errors.Is(err, amm.ErrZeroOutput),
		errors.As(err, &slipErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &feedErr):
		status = http.StatusServiceUnavailable
	case errors.As(err, &xferErr):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func receiptResponse(r *vault.Receipt) gin.H {
	return gin.H{
		"operation_id":    r.OperationID,
		"principal":       r.Principal,
		"asset":           r.Asset,
		"native_amount":   r.NativeAmount.String(),
		"canonical_value": r.CanonicalValue.String(),
		"balance_before":  r.BalanceBefore.String(),
		"balance_after":   r.BalanceAfter.String(),
		"canonical_total": r.CanonicalTotal.String(),
		"timestamp":       r.Timestamp,
	}
}

// Allow checks if a request from key is within the rate limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	requests := rl.requests[key]
	valid := make([]time.Time, 0, len(requests))
	for _, t := range requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}
