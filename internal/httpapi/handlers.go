package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"softphone/internal/account"
	"softphone/internal/auth"
	"softphone/internal/calls"
	"softphone/internal/notify"
	"softphone/internal/rbac"
	"softphone/internal/softphone"
	"softphone/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// Phone is the call control surface the handlers drive. *softphone.Engine satisfies it.
type Phone interface {
	Snapshot() softphone.Snapshot
	Dial(ctx context.Context, number string) (calls.CallAlert, error)
	Answer(ctx context.Context) error
	Hangup(ctx context.Context) error
	ToggleHold(ctx context.Context) (bool, error)
	ToggleMute(ctx context.Context) (bool, error)
	Transfer(ctx context.Context, target string) error
	SetAccount(ctx context.Context, acct account.Account) error
}

// Subscriber is the presentation stream fed to websocket clients.
type Subscriber interface {
	Subscribe() <-chan notify.Message
	Unsubscribe(ch <-chan notify.Message)
}

// Notices holds the recent user-visible notifications, oldest first.
type Notices interface {
	Recent() []notify.Notification
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the engine, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Phone    Phone
	Accounts account.Source
	Events   Subscriber
	Notices  Notices

	// AllowLogin enables the unauthenticated token endpoint. Never set in production.
	AllowLogin bool
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

// Login issues a JWT token pair for local development.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || !h.AllowLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	if !lo.Contains([]string{rbac.RoleUser, rbac.RoleAgent, rbac.RoleAdmin}, req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh exchanges a refresh token for a new pair so the event stream can outlive one access token.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Softphone ---

type dialRequest struct {
	Number string `json:"number" binding:"required"`
}

type transferRequest struct {
	Target string `json:"target" binding:"required"`
}

func (h Handlers) GetSoftphone(c *gin.Context) {
	c.JSON(http.StatusOK, h.Phone.Snapshot())
}

// Notifications lets a freshly opened UI show what it missed before subscribing.
func (h Handlers) Notifications(c *gin.Context) {
	if h.Notices == nil {
		c.JSON(http.StatusOK, gin.H{"notifications": []notify.Notification{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": h.Notices.Recent()})
}

func (h Handlers) Dial(c *gin.Context) {
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}
	alert, err := h.Phone.Dial(c.Request.Context(), req.Number)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.FromGin(c).Info("dial requested", "call_id", alert.SessionID)
	c.JSON(http.StatusCreated, alert)
}

func (h Handlers) Answer(c *gin.Context) {
	if err := h.Phone.Answer(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Phone.Snapshot())
}

func (h Handlers) Hangup(c *gin.Context) {
	if err := h.Phone.Hangup(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Phone.Snapshot())
}

func (h Handlers) ToggleHold(c *gin.Context) {
	held, err := h.Phone.ToggleHold(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isHold": held})
}

func (h Handlers) ToggleMute(c *gin.Context) {
	muted, err := h.Phone.ToggleMute(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": muted})
}

func (h Handlers) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "target required"})
		return
	}
	if err := h.Phone.Transfer(c.Request.Context(), req.Target); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Phone.Snapshot())
}

// ReloadAccount re-reads the caller's SIP account and re-registers with it.
func (h Handlers) ReloadAccount(c *gin.Context) {
	if h.Accounts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "account source not configured"})
		return
	}
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	acct, err := h.Accounts.Lookup(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Phone.SetAccount(c.Request.Context(), acct); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Phone.Snapshot())
}

// writeError maps engine and account errors to status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, softphone.ErrInvalidNumber):
		status = http.StatusBadRequest
	case errors.Is(err, softphone.ErrCallInProgress), errors.Is(err, softphone.ErrNoActiveCall):
		status = http.StatusConflict
	case errors.Is(err, softphone.ErrNotReady), errors.Is(err, softphone.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, account.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, account.ErrIncomplete):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
