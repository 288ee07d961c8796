package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/layer-3/powgate/adapters/challenge"
	"github.com/layer-3/powgate/adapters/credentials"
	"github.com/layer-3/powgate/adapters/csrf"
	"github.com/layer-3/powgate/adapters/store"
	"github.com/layer-3/powgate/adapters/tokenizer"
	"github.com/layer-3/powgate/core"
	"github.com/layer-3/powgate/service"
)

const testDifficulty = 2

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, cookies CookieOptions) *gin.Engine {
	t.Helper()

	kv := store.NewMemoryStore(0)
	t.Cleanup(func() { _ = kv.Close() })

	hasher := credentials.NewHasher(credentials.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
	hash, err := hasher.Hash("s3cret")
	require.NoError(t, err)
	accounts, err := credentials.NewMemoryRepository(core.Account{
		ID: "acc-1", Username: "alice", Type: core.AccountTypeAdvertiser, PasswordHash: hash,
	})
	require.NoError(t, err)
	verifier, err := credentials.NewVerifier(accounts, hasher, credentials.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)

	key, err := tokenizer.GenerateKey()
	require.NoError(t, err)
	revocations, err := store.NewMemoryRevocations(time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = revocations.Close() })

	svc := service.NewAuthService(service.Deps{
		Challenges:  challenge.NewStore(kv),
		CSRF:        csrf.NewService(kv),
		Credentials: verifier,
		Sessions:    service.NewSessionIssuer(tokenizer.NewJWTTokenizer(key), revocations, nil, time.Hour),
	}, testDifficulty)

	if cookies.SessionTTL == 0 {
		cookies.SessionTTL = time.Hour
	}
	return SetupRouter(svc, RouterOptions{Cookies: cookies, Logger: zerolog.Nop(), Metrics: true})
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// client replays cookies between requests like a browser would
type client struct {
	t       *testing.T
	router  http.Handler
	cookies map[string]*http.Cookie
	headers map[string]string
}

func newClient(t *testing.T, router http.Handler) *client {
	return &client{t: t, router: router, cookies: map[string]*http.Cookie{}, headers: map[string]string{}}
}

func (c *client) do(method, path string, body any, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	c.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	for _, cookie := range c.cookies {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}

	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)

	for _, cookie := range rec.Result().Cookies() {
		if cookie.MaxAge < 0 {
			delete(c.cookies, cookie.Name)
			continue
		}
		c.cookies[cookie.Name] = cookie
	}

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

type loginAttempt struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Challenge string `json:"challenge,omitempty"`
	Nonce     any    `json:"nonce"`
	Solution  string `json:"solution"`
}

// csrf fetches a CSRF token for scope
func (c *client) csrf(scope string) string {
	c.t.Helper()

	rec, env := c.do(http.MethodGet, "/auth/csrf?scope="+scope, nil, nil)
	require.Equal(c.t, http.StatusOK, rec.Code)
	var tok csrfResponse
	require.NoError(c.t, json.Unmarshal(env.Data, &tok))
	return tok.Token
}

func mustMap(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

// prepare fetches a CSRF token and solves a fresh challenge
func (c *client) prepare(username string) (string, loginAttempt) {
	c.t.Helper()

	rec, env := c.do(http.MethodGet, "/auth/csrf", nil, nil)
	require.Equal(c.t, http.StatusOK, rec.Code)
	var tok csrfResponse
	require.NoError(c.t, json.Unmarshal(env.Data, &tok))

	rec, env = c.do(http.MethodPost, "/auth/challenge", gin.H{"username": username}, nil)
	require.Equal(c.t, http.StatusOK, rec.Code)
	var ch challengeResponse
	require.NoError(c.t, json.Unmarshal(env.Data, &ch))

	nonce, hash, err := core.Solve(context.Background(), ch.Challenge, ch.Difficulty, 1<<20)
	require.NoError(c.t, err)

	return tok.Token, loginAttempt{
		Username:  username,
		Password:  "s3cret",
		Challenge: ch.Challenge,
		Nonce:     json.Number(nonce),
		Solution:  hash,
	}
}

func TestChallengeEndpoint(t *testing.T) {
	router := newRouter(t, CookieOptions{})

	apitest.New().
		Handler(router).
		Post("/auth/challenge").
		JSON(`{"username":"alice"}`).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal(`$.status`, "success")).
		Assert(jsonpath.Equal(`$.data.difficulty`, float64(testDifficulty))).
		Assert(jsonpath.Present(`$.data.challenge`)).
		Assert(jsonpath.Present(`$.data.expiresAt`)).
		End()

	apitest.New().
		Handler(router).
		Post("/auth/challenge").
		JSON(`{}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal(`$.status`, "error")).
		Assert(jsonpath.Equal(`$.message`, "invalid request")).
		Assert(jsonpath.NotPresent(`$.data`)).
		End()

	apitest.New().
		Handler(router).
		Post("/auth/challenge").
		Body(`not json`).
		Expect(t).
		Status(http.StatusBadRequest).
		End()
}

func TestCSRFEndpoint(t *testing.T) {
	router := newRouter(t, CookieOptions{})

	apitest.New().
		Handler(router).
		Get("/auth/csrf").
		Expect(t).
		Status(http.StatusOK).
		CookiePresent(VisitCookie).
		Assert(jsonpath.Equal(`$.status`, "success")).
		Assert(jsonpath.Present(`$.data.token`)).
		End()
}

func TestLoginFlow(t *testing.T) {
	router := newRouter(t, CookieOptions{Domain: "example.com", TrustForwardedProto: true})
	c := newClient(t, router)
	c.headers["X-Forwarded-Proto"] = "https"

	token, attempt := c.prepare("alice")
	rec, env := c.do(http.MethodPost, "/auth/login", attempt, map[string]string{CSRFHeader: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", env.Status)

	var login loginResponse
	require.NoError(t, json.Unmarshal(env.Data, &login))
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, userResponse{ID: "acc-1", Username: "alice", Type: "advertiser"}, login.User)

	session := c.cookies[DefaultSessionCookie]
	require.NotNil(t, session)
	assert.Equal(t, login.Token, session.Value)
	assert.True(t, session.HttpOnly)
	assert.True(t, session.Secure)
	assert.Equal(t, http.SameSiteStrictMode, session.SameSite)
	assert.Equal(t, "/", session.Path)
	assert.Equal(t, "example.com", session.Domain)
	assert.Equal(t, 3600, session.MaxAge)

	// cookie authenticates follow-up requests
	rec, env = c.do(http.MethodGet, "/api/me", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me meResponse
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, "advertiser", me.Type)

	// replaying the same challenge and nonce is a security gate failure
	fresh, _ := c.prepare("alice")
	rec, env = c.do(http.MethodPost, "/auth/login", attempt, map[string]string{CSRFHeader: fresh})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, envelope{Status: "error", Message: "security check failed"}, env)

	// logout is a state change and needs its own CSRF token
	rec, env = c.do(http.MethodPost, "/auth/logout", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "security check failed", env.Message)
	rec, env = c.do(http.MethodPost, "/auth/logout", nil, map[string]string{CSRFHeader: c.csrf("logout")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, mustMap(t, env.Data)["loggedOut"])
	assert.NotContains(t, c.cookies, DefaultSessionCookie)

	// the revoked token no longer works as a bearer token either
	rec, env = c.do(http.MethodGet, "/api/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication required", env.Message)
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(token *string, a *loginAttempt)
		status  int
		message string
	}{
		{
			name:    "missing csrf header",
			mutate:  func(token *string, _ *loginAttempt) { *token = "" },
			status:  http.StatusForbidden,
			message: "security check failed",
		},
		{
			name:    "missing password",
			mutate:  func(_ *string, a *loginAttempt) { a.Password = "" },
			status:  http.StatusBadRequest,
			message: "invalid request",
		},
		{
			name:    "nonce of the wrong type",
			mutate:  func(_ *string, a *loginAttempt) { a.Nonce = true },
			status:  http.StatusBadRequest,
			message: "invalid request",
		},
		{
			name:    "nonce as string reaches credentials",
			mutate:  func(_ *string, a *loginAttempt) { a.Password = "wrong"; a.Nonce = fmtNonce(a.Nonce) },
			status:  http.StatusUnauthorized,
			message: "invalid username or password",
		},
		{
			name:    "wrong password",
			mutate:  func(_ *string, a *loginAttempt) { a.Password = "wrong" },
			status:  http.StatusUnauthorized,
			message: "invalid username or password",
		},
		{
			name:    "challenge issued to another user",
			mutate:  func(_ *string, a *loginAttempt) { a.Username = "mallory" },
			status:  http.StatusForbidden,
			message: "security check failed",
		},
		{
			name: "bad proof of work",
			mutate: func(_ *string, a *loginAttempt) {
				a.Solution = strings.Repeat("0", 64)
			},
			status:  http.StatusForbidden,
			message: "security check failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, newRouter(t, CookieOptions{}))
			token, attempt := c.prepare("alice")
			tt.mutate(&token, &attempt)

			rec, env := c.do(http.MethodPost, "/auth/login", attempt, map[string]string{CSRFHeader: token})
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, envelope{Status: "error", Message: tt.message}, env)
			assert.NotContains(t, c.cookies, DefaultSessionCookie)
		})
	}
}

func fmtNonce(n any) string {
	return string(n.(json.Number))
}

func TestLoginFromAnotherVisitIsRejected(t *testing.T) {
	router := newRouter(t, CookieOptions{})
	victim := newClient(t, router)
	token, attempt := victim.prepare("alice")

	attacker := newClient(t, router)
	rec, env := attacker.do(http.MethodPost, "/auth/login", attempt, map[string]string{CSRFHeader: token})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "security check failed", env.Message)
}

func TestLoginWithoutChallengeID(t *testing.T) {
	router := newRouter(t, CookieOptions{})
	victim := newClient(t, router)
	token, attempt := victim.prepare("alice")
	attempt.Challenge = ""

	// another visit submits zero work for alice and requests its own challenge
	attacker := newClient(t, router)
	rec, _ := attacker.do(http.MethodPost, "/auth/login", loginAttempt{
		Username: "alice",
		Password: "guess",
		Nonce:    "1",
		Solution: strings.Repeat("0", 64),
	}, map[string]string{CSRFHeader: attacker.csrf("login")})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = attacker.do(http.MethodPost, "/auth/challenge", gin.H{"username": "alice"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = victim.do(http.MethodPost, "/auth/login", attempt, map[string]string{CSRFHeader: token})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestInsecureCookieWithoutTLS(t *testing.T) {
	c := newClient(t, newRouter(t, CookieOptions{}))
	c.headers["X-Forwarded-Proto"] = "https" // untrusted

	token, attempt := c.prepare("alice")
	rec, _ := c.do(http.MethodPost, "/auth/login", attempt, map[string]string{CSRFHeader: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, c.cookies[DefaultSessionCookie].Secure)
	assert.True(t, c.cookies[DefaultSessionCookie].HttpOnly)

	c = newClient(t, newRouter(t, CookieOptions{Secure: SecureAlways}))
	token, attempt = c.prepare("alice")
	rec, _ = c.do(http.MethodPost, "/auth/login", attempt, map[string]string{CSRFHeader: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, c.cookies[DefaultSessionCookie].Secure)
}

func TestProtectedRoutes(t *testing.T) {
	router := newRouter(t, CookieOptions{})

	apitest.New().
		Handler(router).
		Get("/api/me").
		Expect(t).
		Status(http.StatusUnauthorized).
		Assert(jsonpath.Equal(`$.message`, "authentication required")).
		End()

	apitest.New().
		Handler(router).
		Get("/api/me").
		Header("Authorization", "Bearer not-a-token").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()

	apitest.New().
		Handler(router).
		Post("/auth/logout").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
}

func TestMetricsEndpoint(t *testing.T) {
	router := newRouter(t, CookieOptions{})
	c := newClient(t, router)
	c.prepare("alice")

	rec, _ := c.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "powgate_challenges_issued_total")
}

func TestStringifyNonce(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{``, "", false},
		{`null`, "", false},
		{`"abc"`, "abc", false},
		{`42`, "42", false},
		{`12345678901234567890`, "12345678901234567890", false},
		{`true`, "", true},
		{`{"a":1}`, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := stringifyNonce(json.RawMessage(tc.raw))
			if tc.wantErr {
				assert.ErrorIs(t, err, core.ErrMalformedField)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
