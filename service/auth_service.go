package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/layer-3/powgate/core"
	"github.com/layer-3/powgate/internal/logutil"
	"github.com/layer-3/powgate/ports"
)

const (
	DefaultDifficulty = 4
	DefaultCSRFScope  = "login"
	LogoutCSRFScope   = "logout"

	maxUsernameLen = 128
	maxPasswordLen = 1024
	maxNonceLen    = 256
)

// Deps are the collaborators of AuthService
type Deps struct {
	Challenges  ports.ChallengeStore
	CSRF        ports.CSRFService
	Credentials ports.CredentialVerifier
	Sessions    ports.SessionIssuer
	Audit       ports.AuditSink // optional
}

// AuthService runs the login handshake: CSRF, then proof of work, then
// credentials, each a hard gate.
type AuthService struct {
	challenges  ports.ChallengeStore
	csrf        ports.CSRFService
	credentials ports.CredentialVerifier
	sessions    ports.SessionIssuer
	audit       ports.AuditSink

	difficulty int
	now        func() time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(deps Deps, difficulty int) *AuthService {
	if difficulty <= 0 {
		difficulty = DefaultDifficulty
	}
	audit := deps.Audit
	if audit == nil {
		audit = nopAudit{}
	}
	return &AuthService{
		challenges:  deps.Challenges,
		csrf:        deps.CSRF,
		credentials: deps.Credentials,
		sessions:    deps.Sessions,
		audit:       audit,
		difficulty:  difficulty,
		now:         time.Now,
	}
}

// CreateChallenge issues a proof-of-work challenge for username to the client
// visit boundSession
func (s *AuthService) CreateChallenge(ctx context.Context, username, boundSession string) (*core.Challenge, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}

	challenge, err := s.challenges.Issue(ctx, username, boundSession, s.difficulty)
	if err != nil {
		return nil, oops.Code("CHALLENGE_ISSUE_FAILED").
			With("username", username).
			Wrap(err)
	}
	challengesIssued.Inc()

	return challenge, nil
}

// IssueCSRF issues an anti-forgery token for scope, bound to the client visit
func (s *AuthService) IssueCSRF(ctx context.Context, scope, boundSession string) (*core.CSRFToken, error) {
	if scope == "" {
		scope = DefaultCSRFScope
	}
	token, err := s.csrf.Generate(ctx, scope, boundSession)
	if err != nil {
		return nil, oops.Code("CSRF_ISSUE_FAILED").
			With("scope", scope).
			Wrap(err)
	}
	return token, nil
}

// LoginRequest is a submitted login attempt
type LoginRequest struct {
	Username      string
	Password      string
	ChallengeID   string // optional, defaults to the newest challenge issued for Username to BoundSession
	Nonce         string
	Solution      string // client claimed hash
	CSRFToken     string
	CSRFScope     string // DefaultCSRFScope when empty
	BoundSession  string // visit the CSRF token was issued to
	ClientAddress string
}

// LoginResult describes how far an attempt got. It is returned even when
// Login fails so the state trace can be inspected.
type LoginResult struct {
	State   core.LoginState
	Trace   []core.LoginState
	Account *core.Account
	Session *core.Session
	Token   string
}

type attempt struct {
	req       LoginRequest
	challenge *core.Challenge
	account   *core.Account
	session   *core.Session
	token     string
}

// gate is one step of the handshake; pass is the state reached when check succeeds
type gate struct {
	name  string
	pass  core.LoginState
	check func(ctx context.Context, a *attempt) error
}

// gates returns the handshake steps in their fixed order
func (s *AuthService) gates() []gate {
	return []gate{
		{core.GateValidation, core.StateChallengeIssued, s.checkRequest},
		{core.GateCSRF, core.StateCSRFVerified, s.checkCSRF},
		{core.GatePoW, core.StatePoWVerified, s.checkProofOfWork},
		{core.GateCredentials, core.StateCredentialsVerified, s.checkCredentials},
		{core.GateSession, core.StateSessionIssued, s.issueSession},
	}
}

// Login runs every gate in order and stops at the first rejection
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	a := &attempt{req: req}
	result := &LoginResult{State: core.StateIdle, Trace: []core.LoginState{core.StateIdle}}

	for _, g := range s.gates() {
		if err := g.check(ctx, a); err != nil {
			result.State = core.StateRejected
			result.Trace = append(result.Trace, core.StateRejected)
			return result, s.reject(ctx, g.name, req, err)
		}
		result.State = g.pass
		result.Trace = append(result.Trace, g.pass)
	}

	loginAttempts.WithLabelValues("success").Inc()
	log := logutil.GetOrDefault(ctx)
	log.Info().
		Str("account_id", a.account.ID).
		Str("session_id", a.session.ID).
		Msg("Session issued")

	result.Account = a.account
	result.Session = a.session
	result.Token = a.token
	return result, nil
}

// Logout revokes a session token. csrfToken must have been issued for
// LogoutCSRFScope to the same client visit.
func (s *AuthService) Logout(ctx context.Context, token, csrfToken, boundSession string) error {
	if token == "" {
		return core.ErrSessionInvalid
	}
	if err := s.csrf.Validate(ctx, csrfToken, LogoutCSRFScope, boundSession); err != nil {
		reason := reasonOf(err)
		gateRejections.WithLabelValues(core.GateCSRF, reason).Inc()
		return oops.Code(strings.ToUpper(reason)).
			In("logout").
			Wrap(err)
	}
	return s.sessions.Revoke(ctx, token)
}

// ValidateSession returns the session behind a token that is neither expired nor revoked
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*core.Session, error) {
	if token == "" {
		return nil, core.ErrSessionInvalid
	}
	return s.sessions.Validate(ctx, token)
}

func (s *AuthService) checkRequest(_ context.Context, a *attempt) error {
	req := a.req
	if req.Username == "" || req.Password == "" || req.Nonce == "" || req.Solution == "" {
		return core.ErrMissingField
	}
	if err := validateUsername(req.Username); err != nil {
		return err
	}
	if len(req.Password) > maxPasswordLen || len(req.Nonce) > maxNonceLen {
		return core.ErrMalformedField
	}
	if !isHex(req.Solution, 64) {
		return fmt.Errorf("solution is not a sha-256 hex digest: %w", core.ErrMalformedField)
	}
	if req.ChallengeID != "" && !isHex(req.ChallengeID, core.ChallengeIDBytes*2) {
		return fmt.Errorf("challenge id: %w", core.ErrMalformedField)
	}
	return nil
}

func (s *AuthService) checkCSRF(ctx context.Context, a *attempt) error {
	scope := a.req.CSRFScope
	if scope == "" {
		scope = DefaultCSRFScope
	}
	return s.csrf.Validate(ctx, a.req.CSRFToken, scope, a.req.BoundSession)
}

// checkProofOfWork verifies the solution against the stored challenge and
// only then consumes it. A wrong solution leaves the challenge usable.
func (s *AuthService) checkProofOfWork(ctx context.Context, a *attempt) error {
	id := a.req.ChallengeID
	if id == "" {
		latest, err := s.challenges.Latest(ctx, a.req.Username, a.req.BoundSession)
		if err != nil {
			return err
		}
		id = latest
	}

	challenge, err := s.challenges.Peek(ctx, id, a.req.Username)
	if err != nil {
		return err
	}
	if !core.VerifyPoW(challenge, challenge.Difficulty, a.req.Nonce, a.req.Solution) {
		return core.ErrInvalidProofOfWork
	}

	consumed, err := s.challenges.TryConsume(ctx, id, a.req.Username)
	if err != nil {
		return err
	}
	a.challenge = consumed
	return nil
}

func (s *AuthService) checkCredentials(ctx context.Context, a *attempt) error {
	credentialChecks.Inc()
	account, err := s.credentials.Verify(ctx, a.req.Username, a.req.Password)
	if err != nil {
		return err
	}
	a.account = account
	return nil
}

// issueSession runs after the challenge is consumed; a failure here leaves it consumed
func (s *AuthService) issueSession(ctx context.Context, a *attempt) error {
	session, token, err := s.sessions.Issue(ctx, a.account)
	if err != nil {
		return err
	}
	a.session = session
	a.token = token
	return nil
}

func (s *AuthService) reject(ctx context.Context, gateName string, req LoginRequest, err error) error {
	reason := reasonOf(err)
	kind := core.KindOf(err)

	loginAttempts.WithLabelValues("rejected").Inc()
	gateRejections.WithLabelValues(gateName, reason).Inc()

	s.audit.Record(ctx, core.AuditEvent{
		ID:            uuid.New().String(),
		Kind:          kind.String(),
		Gate:          gateName,
		Reason:        reason,
		Username:      req.Username,
		ClientAddress: req.ClientAddress,
		Timestamp:     s.now(),
	})

	if kind == core.KindInternal {
		log := logutil.GetOrDefault(ctx)
		logutil.Err(log.Error(), err).
			Str("gate", gateName).
			Msg("Login attempt failed")
	}

	return oops.Code(strings.ToUpper(reason)).
		In(gateName).
		With("username", req.Username).
		Wrap(err)
}

var reasons = []struct {
	err    error
	reason string
}{
	{core.ErrMissingField, "missing_field"},
	{core.ErrMalformedField, "malformed_field"},
	{core.ErrInvalidUsername, "invalid_username"},
	{core.ErrCSRFMissing, "csrf_missing"},
	{core.ErrCSRFInvalid, "csrf_invalid"},
	{core.ErrCSRFExpired, "csrf_expired"},
	{core.ErrCSRFMismatch, "csrf_mismatch"},
	{core.ErrChallengeNotFound, "challenge_not_found"},
	{core.ErrChallengeExpired, "challenge_expired"},
	{core.ErrChallengeConsumed, "challenge_consumed"},
	{core.ErrSubjectMismatch, "subject_mismatch"},
	{core.ErrInvalidProofOfWork, "pow_invalid"},
	{core.ErrInvalidCredentials, "invalid_credentials"},
}

// reasonOf returns the diagnostic code recorded for err. It is never sent to clients.
func reasonOf(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}

func validateUsername(username string) error {
	if username == "" {
		return core.ErrMissingField
	}
	if len(username) > maxUsernameLen || !utf8.ValidString(username) {
		return core.ErrInvalidUsername
	}
	for _, r := range username {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return core.ErrInvalidUsername
		}
	}
	return nil
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, core.AuditEvent) {}
