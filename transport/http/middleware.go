package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/layer-3/powgate/core"
	"github.com/layer-3/powgate/internal/logutil"
	"github.com/layer-3/powgate/service"
)

const (
	VisitCookie          = "powgate_visit"
	DefaultSessionCookie = "powgate_session"

	visitKey   = "visit"
	sessionKey = "session"
)

// Secure cookie policies
const (
	SecureAuto   = "auto"   // secure when the request arrived over TLS
	SecureAlways = "always" // secure on every response
)

// CookieOptions control the attributes of the cookies handed to clients
type CookieOptions struct {
	SessionName         string
	Domain              string
	Secure              string // SecureAuto or SecureAlways
	TrustForwardedProto bool   // honour X-Forwarded-Proto from a TLS terminating proxy
	SessionTTL          time.Duration
}

func (o CookieOptions) name() string {
	if o.SessionName == "" {
		return DefaultSessionCookie
	}
	return o.SessionName
}

func (o CookieOptions) secure(c *gin.Context) bool {
	if o.Secure == SecureAlways || c.Request.TLS != nil {
		return true
	}
	return o.TrustForwardedProto && c.GetHeader("X-Forwarded-Proto") == "https"
}

func (o CookieOptions) session(c *gin.Context, token string) *http.Cookie {
	return &http.Cookie{
		Name:     o.name(),
		Value:    token,
		Path:     "/",
		Domain:   o.Domain,
		MaxAge:   int(o.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   o.secure(c),
		SameSite: http.SameSiteStrictMode,
	}
}

func (o CookieOptions) expired(c *gin.Context) *http.Cookie {
	cookie := o.session(c, "")
	cookie.MaxAge = -1
	return cookie
}

// sessionToken returns the bearer token, falling back to the session cookie
func (o CookieOptions) sessionToken(c *gin.Context) string {
	if token := bearerToken(c); token != "" {
		return token
	}
	token, err := c.Cookie(o.name())
	if err != nil {
		return ""
	}
	return token
}

// VisitMiddleware assigns every client an anonymous visit id, which CSRF
// tokens are bound to
func VisitMiddleware(cookies CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		visit, err := c.Cookie(VisitCookie)
		if err != nil || !validVisit(visit) {
			visit, err = core.RandomHex(16)
			if err != nil {
				fail(c, err)
				return
			}
			http.SetCookie(c.Writer, &http.Cookie{
				Name:     VisitCookie,
				Value:    visit,
				Path:     "/",
				Domain:   cookies.Domain,
				HttpOnly: true,
				Secure:   cookies.secure(c),
				SameSite: http.SameSiteStrictMode,
			})
		}
		c.Set(visitKey, visit)
		c.Next()
	}
}

func validVisit(v string) bool {
	if len(v) != 32 {
		return false
	}
	for i := 0; i < len(v); i++ {
		if !('0' <= v[i] && v[i] <= '9' || 'a' <= v[i] && v[i] <= 'f') {
			return false
		}
	}
	return true
}

func visitID(c *gin.Context) string {
	return c.GetString(visitKey)
}

// RequestLogger attaches a request scoped logger to the context and logs
// each request once it completes
func RequestLogger(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		log := base.With().Str("request_id", uuid.NewString()).Logger()
		c.Request = c.Request.WithContext(logutil.WithLogger(c.Request.Context(), log))

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Str("client_ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

// AuthMiddleware rejects requests without a valid, unrevoked session
func AuthMiddleware(authService *service.AuthService, cookies CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := cookies.sessionToken(c)
		if token == "" {
			fail(c, core.ErrSessionInvalid)
			return
		}

		session, err := authService.ValidateSession(c.Request.Context(), token)
		if err != nil {
			fail(c, err)
			return
		}

		c.Set(sessionKey, session)
		c.Next()
	}
}

func sessionFrom(c *gin.Context) (*core.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*core.Session)
	return session, ok
}
