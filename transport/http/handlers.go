package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/powgate/core"
	"github.com/layer-3/powgate/internal/logutil"
	"github.com/layer-3/powgate/service"
)

// CSRFHeader carries the anti-forgery token on login
const CSRFHeader = "X-CSRF-Token"

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	cookies     CookieOptions
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, cookies CookieOptions) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		cookies:     cookies,
	}
}

type challengeResponse struct {
	Challenge  string    `json:"challenge"`
	Difficulty int       `json:"difficulty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type csrfResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Type     string `json:"type"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type meResponse struct {
	userResponse
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Challenge issues a proof-of-work challenge
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, core.ErrMalformedField)
		return
	}

	challenge, err := h.authService.CreateChallenge(c.Request.Context(), req.Username, visitID(c))
	if err != nil {
		fail(c, err)
		return
	}

	succeed(c, challengeResponse{
		Challenge:  challenge.ID,
		Difficulty: challenge.Difficulty,
		ExpiresAt:  challenge.ExpiresAt,
	})
}

// CSRF issues an anti-forgery token bound to the caller's visit
func (h *AuthHandlers) CSRF(c *gin.Context) {
	token, err := h.authService.IssueCSRF(c.Request.Context(), c.Query("scope"), visitID(c))
	if err != nil {
		fail(c, err)
		return
	}

	succeed(c, csrfResponse{Token: token.Value, ExpiresAt: token.ExpiresAt})
}

// Login runs the handshake and sets the session cookie on success
func (h *AuthHandlers) Login(c *gin.Context) {
	var req struct {
		Username  string          `json:"username"`
		Password  string          `json:"password"`
		Challenge string          `json:"challenge"`
		Nonce     json.RawMessage `json:"nonce"`
		Solution  string          `json:"solution"`
		Scope     string          `json:"scope"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, core.ErrMalformedField)
		return
	}

	nonce, err := stringifyNonce(req.Nonce)
	if err != nil {
		fail(c, err)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), service.LoginRequest{
		Username:      req.Username,
		Password:      req.Password,
		ChallengeID:   req.Challenge,
		Nonce:         nonce,
		Solution:      req.Solution,
		CSRFToken:     c.GetHeader(CSRFHeader),
		CSRFScope:     req.Scope,
		BoundSession:  visitID(c),
		ClientAddress: c.ClientIP(),
	})
	if err != nil {
		fail(c, err)
		return
	}

	http.SetCookie(c.Writer, h.cookies.session(c, result.Token))
	succeed(c, loginResponse{
		Token: result.Token,
		User: userResponse{
			ID:       result.Account.ID,
			Username: result.Account.Username,
			Type:     string(result.Account.Type),
		},
	})
}

// Logout revokes the presented session and expires the cookie. It needs a
// CSRF token issued for the logout scope.
func (h *AuthHandlers) Logout(c *gin.Context) {
	token := h.cookies.sessionToken(c)
	if token == "" {
		fail(c, core.ErrSessionInvalid)
		return
	}

	if err := h.authService.Logout(c.Request.Context(), token, c.GetHeader(CSRFHeader), visitID(c)); err != nil {
		fail(c, err)
		return
	}

	http.SetCookie(c.Writer, h.cookies.expired(c))
	succeed(c, gin.H{"loggedOut": true})
}

// Me returns the authenticated session's subject
func (h *AuthHandlers) Me(c *gin.Context) {
	session, ok := sessionFrom(c)
	if !ok {
		fail(c, core.ErrSessionInvalid)
		return
	}

	succeed(c, meResponse{
		userResponse: userResponse{
			ID:       session.SubjectID,
			Username: session.Username,
			Type:     string(session.SubjectType),
		},
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
	})
}

// stringifyNonce accepts a JSON string or number
func stringifyNonce(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", core.ErrMalformedField
		}
		return s, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return "", core.ErrMalformedField
	}
	return n.String(), nil
}

func succeed(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": data})
}

// fail maps err to a status and a single generic message per error class.
// Details stay in the logs and the audit trail.
func fail(c *gin.Context, err error) {
	status, message := http.StatusInternalServerError, "internal server error"

	switch {
	case errors.Is(err, core.ErrSessionInvalid),
		errors.Is(err, core.ErrSessionExpired),
		errors.Is(err, core.ErrSessionRevoked):
		status, message = http.StatusUnauthorized, "authentication required"
	default:
		switch core.KindOf(err) {
		case core.KindValidation:
			status, message = http.StatusBadRequest, "invalid request"
		case core.KindSecurityGate:
			status, message = http.StatusForbidden, "security check failed"
		case core.KindCredential:
			status, message = http.StatusUnauthorized, "invalid username or password"
		}
	}

	if status == http.StatusInternalServerError {
		log := logutil.GetOrDefault(c.Request.Context())
		logutil.Err(log.Error(), err).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}

	c.AbortWithStatusJSON(status, gin.H{"status": "error", "message": message})
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if len(auth) < 8 || !strings.EqualFold(auth[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}
