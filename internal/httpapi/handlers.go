package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"voice-secretary/internal/auth"
	"voice-secretary/internal/calls"
	"voice-secretary/internal/reporting"
	"voice-secretary/internal/telephony"
	"voice-secretary/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StreamStatus reports whether a call currently has a live media session.
type StreamStatus interface {
	IsStreaming(ctx context.Context, callSID string) bool
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Calls    *calls.Manager
	Settings *calls.SettingsService
	Rules    *calls.RuleService
	Bridge   *telephony.Bridge
	Streams  StreamStatus
	Reports  *reporting.Service
}

// abortWithError maps service errors onto HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, calls.ErrInvalidArgument), errors.Is(err, reporting.ErrInvalidRequest):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, calls.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, calls.ErrDuplicate):
		status, msg = http.StatusConflict, "already exists"
	case errors.Is(err, calls.ErrConflict):
		status, msg = http.StatusConflict, "concurrent update, retry"
	case errors.Is(err, telephony.ErrCallLimit):
		status, msg = http.StatusTooManyRequests, "concurrent call limit reached"
	case errors.Is(err, telephony.ErrConfiguration):
		status, msg = http.StatusServiceUnavailable, "telephony not configured"
	}
	var perr *telephony.ProviderError
	if errors.As(err, &perr) {
		status, msg = http.StatusBadGateway, "telephony provider error"
	}
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func currentUser(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login issues a JWT token pair.
//
// NOTE: This endpoint trusts the caller and is only registered outside production.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Settings ---

func (h Handlers) GetSettings(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	s, err := h.Settings.Get(c.Request.Context(), uid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) UpdateSettings(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var patch calls.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s, err := h.Settings.Update(c.Request.Context(), uid, patch)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type inboundToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h Handlers) SetInboundEnabled(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req inboundToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "enabled required"})
		return
	}
	s, err := h.Settings.SetInboundEnabled(c.Request.Context(), uid, *req.Enabled)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// --- Rules ---

func (h Handlers) ListRules(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	rules, err := h.Rules.List(c.Request.Context(), uid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if rules == nil {
		rules = []calls.PhoneNumberRule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h Handlers) CreateRule(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req calls.NewRule
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rule, err := h.Rules.Create(c.Request.Context(), uid, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h Handlers) DeleteRule(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.Rules.Delete(c.Request.Context(), uid, c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Calls ---

type placeCallRequest struct {
	ToNumber   string         `json:"to_number"`
	FromNumber string         `json:"from_number"`
	Purpose    calls.Purpose  `json:"purpose"`
	Context    map[string]any `json:"context"`
	TaskID     string         `json:"task_id"`
}

type callDetail struct {
	calls.Call
	Messages  []calls.CallMessage `json:"messages"`
	Streaming bool                `json:"streaming"`
}

func (h Handlers) ListCalls(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	f := calls.ListFilter{
		Direction: calls.Direction(c.Query("direction")),
		Status:    calls.Status(c.Query("status")),
	}
	if f.Direction != "" && f.Direction != calls.DirectionInbound && f.Direction != calls.DirectionOutbound {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "direction must be inbound or outbound"})
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	var err error
	if f.Limit, err = intQuery(c, "limit"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	if f.Offset, err = intQuery(c, "offset"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "offset must be an integer"})
		return
	}

	out, err := h.Calls.ListForUser(c.Request.Context(), uid, f)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if out == nil {
		out = []calls.Call{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

func (h Handlers) GetCall(c *gin.Context) {
	call, ok := h.ownedCall(c)
	if !ok {
		return
	}
	msgs, err := h.Calls.ListMessages(c.Request.Context(), call.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if msgs == nil {
		msgs = []calls.CallMessage{}
	}
	d := callDetail{Call: call, Messages: msgs}
	if h.Streams != nil {
		d.Streaming = h.Streams.IsStreaming(c.Request.Context(), call.CallSID)
	}
	c.JSON(http.StatusOK, d)
}

func (h Handlers) PlaceCall(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ToNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to_number required"})
		return
	}
	call, err := h.Bridge.PlaceCall(c.Request.Context(), telephony.PlaceCallRequest{
		UserID:  uid,
		To:      req.ToNumber,
		From:    req.FromNumber,
		Purpose: req.Purpose,
		Context: req.Context,
		TaskID:  req.TaskID,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) EndCall(c *gin.Context) {
	call, ok := h.ownedCall(c)
	if !ok {
		return
	}
	updated, err := h.Bridge.EndCall(c.Request.Context(), call.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ownedCall loads :id and hides calls that belong to someone else.
func (h Handlers) ownedCall(c *gin.Context) (calls.Call, bool) {
	uid, ok := currentUser(c)
	if !ok {
		return calls.Call{}, false
	}
	call, found, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return calls.Call{}, false
	}
	if !found || call.UserID != uid {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return calls.Call{}, false
	}
	return call, true
}

// defaultReportWindow applies when the summary request omits from.
const defaultReportWindow = 30 * 24 * time.Hour

func (h Handlers) CallsSummary(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		return
	}
	to, err := timeQuery(c, "to", time.Now().UTC())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return
	}
	from, err := timeQuery(c, "from", to.Add(-defaultReportWindow))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		UserID:    uid,
		Range:     reporting.TimeRange{From: from, To: to},
		Direction: c.Query("direction"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func timeQuery(c *gin.Context, key string, def time.Time) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, v)
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
