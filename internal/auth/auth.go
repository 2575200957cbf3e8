// Package auth identifies the caller of an API request.
//
// Four modes are supported. ModeNone lets every request through as an
// anonymous service. ModeToken checks a static bearer token. ModeJWT
// verifies HS256 tokens carrying a user and its workspace. ModeBasic
// accepts HTTP basic credentials for a single admin account, or a token
// issued to that account by Login.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Mode selects how requests are authenticated.
type Mode string

const (
	ModeNone  Mode = "none"
	ModeToken Mode = "token"
	ModeJWT   Mode = "jwt"
	ModeBasic Mode = "basic"
)

// IsValid checks whether the mode is a known value.
func (m Mode) IsValid() bool {
	switch m {
	case ModeNone, ModeToken, ModeJWT, ModeBasic:
		return true
	}
	return false
}

var (
	// ErrUnauthenticated is returned when a request carries no credentials.
	ErrUnauthenticated = errors.New("unauthorized")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidCredentials is returned for a wrong username or password.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// DefaultTokenTTL is the lifetime of tokens issued by Issue and Login.
const DefaultTokenTTL = 24 * time.Hour

// Basic-auth callers all share one fixed workspace.
const (
	BasicWorkspaceID    = "basic-auth-workspace"
	BasicOrganizationID = "basic-auth-org"
)

// Scope is the workspace a principal may read and write. An empty
// WorkspaceID means unrestricted.
type Scope struct {
	WorkspaceID    string `json:"workspaceId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// Unrestricted reports whether the scope grants access to every workspace.
func (s Scope) Unrestricted() bool {
	return s.WorkspaceID == ""
}

// Allows reports whether a flow in workspaceID is visible in this scope.
func (s Scope) Allows(workspaceID string) bool {
	return s.Unrestricted() || s.WorkspaceID == workspaceID
}

// Principal is an authenticated caller.
type Principal interface {
	// Subject is the stable id recorded as the actor of changes.
	Subject() string
	// Kind is "user", "basic" or "service".
	Kind() string
	Scope() Scope
}

// UserPrincipal is a user identified by a verified JWT.
type UserPrincipal struct {
	UserID         string
	Email          string
	WorkspaceID    string
	OrganizationID string
}

func (p UserPrincipal) Subject() string { return p.UserID }
func (p UserPrincipal) Kind() string    { return "user" }
func (p UserPrincipal) Scope() Scope {
	return Scope{WorkspaceID: p.WorkspaceID, OrganizationID: p.OrganizationID}
}

// BasicPrincipal is the single admin account of basic mode.
type BasicPrincipal struct {
	Username string
}

func (p BasicPrincipal) Subject() string { return "basic-auth-user" }
func (p BasicPrincipal) Kind() string    { return "basic" }
func (p BasicPrincipal) Scope() Scope {
	return Scope{WorkspaceID: BasicWorkspaceID, OrganizationID: BasicOrganizationID}
}

// ServicePrincipal is a machine caller holding the static API token, or
// the anonymous caller when authentication is off.
type ServicePrincipal struct {
	Name string
}

func (p ServicePrincipal) Subject() string { return p.Name }
func (p ServicePrincipal) Kind() string    { return "service" }
func (p ServicePrincipal) Scope() Scope    { return Scope{} }

// Anonymous is the principal of every request in ModeNone.
var Anonymous Principal = ServicePrincipal{Name: "anonymous"}

type ctxKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Config configures an Authenticator.
type Config struct {
	Mode     Mode
	Token    string // ModeToken
	Secret   string // HS256 key for ModeJWT and ModeBasic
	Username string // ModeBasic
	Password string // ModeBasic
	TTL      time.Duration
}

// Claims is the JWT payload.
type Claims struct {
	Kind           string `json:"kind"`
	Email          string `json:"email,omitempty"`
	WorkspaceID    string `json:"ws,omitempty"`
	OrganizationID string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies request credentials according to its mode.
type Authenticator struct {
	cfg Config
	now func() time.Time
}

// New validates cfg and returns an Authenticator. An empty mode means
// ModeNone.
func New(cfg Config) (*Authenticator, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeNone
	}
	if !cfg.Mode.IsValid() {
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
	switch cfg.Mode {
	case ModeToken:
		if cfg.Token == "" {
			return nil, errors.New("token auth requires a token")
		}
	case ModeJWT:
		if cfg.Secret == "" {
			return nil, errors.New("jwt auth requires a secret")
		}
	case ModeBasic:
		if cfg.Username == "" || cfg.Password == "" {
			return nil, errors.New("basic auth requires a username and password")
		}
		if cfg.Secret == "" {
			return nil, errors.New("basic auth requires a secret for login tokens")
		}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	return &Authenticator{cfg: cfg, now: time.Now}, nil
}

// Mode returns the configured mode.
func (a *Authenticator) Mode() Mode {
	return a.cfg.Mode
}

// ExtractToken returns the request's token from the "token" cookie, a
// bearer Authorization header, or the "token" query parameter, in that
// order.
func ExtractToken(r *http.Request) string {
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Authenticate identifies the caller of r.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	switch a.cfg.Mode {
	case ModeNone:
		return Anonymous, nil
	case ModeBasic:
		if user, pass, ok := r.BasicAuth(); ok {
			return a.checkBasic(user, pass)
		}
	}

	token := ExtractToken(r)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	if a.cfg.Mode == ModeToken {
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.Token)) != 1 {
			return nil, ErrInvalidToken
		}
		return ServicePrincipal{Name: "api-token"}, nil
	}
	return a.Verify(token)
}

func (a *Authenticator) checkBasic(user, pass string) (Principal, error) {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.cfg.Password)) == 1
	if !userOK || !passOK {
		return nil, ErrInvalidCredentials
	}
	return BasicPrincipal{Username: user}, nil
}

// Login exchanges basic-mode credentials for a signed token.
func (a *Authenticator) Login(username, password string) (string, Principal, error) {
	if a.cfg.Mode != ModeBasic {
		return "", nil, fmt.Errorf("login is not available in %s mode", a.cfg.Mode)
	}
	p, err := a.checkBasic(username, password)
	if err != nil {
		return "", nil, err
	}
	token, err := a.Issue(p)
	if err != nil {
		return "", nil, err
	}
	return token, p, nil
}

// Issue signs an HS256 token for p.
func (a *Authenticator) Issue(p Principal) (string, error) {
	if a.cfg.Secret == "" {
		return "", errors.New("no signing secret configured")
	}
	now := a.now()
	claims := Claims{
		Kind:           p.Kind(),
		WorkspaceID:    p.Scope().WorkspaceID,
		OrganizationID: p.Scope().OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TTL)),
		},
	}
	switch v := p.(type) {
	case UserPrincipal:
		claims.Email = v.Email
	case BasicPrincipal:
		claims.Email = v.Username
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a token's signature and expiry and returns its principal.
// In basic mode only tokens issued to the admin account are accepted. User
// tokens must name a workspace.
func (a *Authenticator) Verify(token string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	switch claims.Kind {
	case "basic":
		if a.cfg.Mode != ModeBasic || claims.Email != a.cfg.Username {
			return nil, ErrInvalidToken
		}
		return BasicPrincipal{Username: claims.Email}, nil
	case "user":
		if a.cfg.Mode != ModeJWT || claims.Subject == "" {
			return nil, ErrInvalidToken
		}
		// An empty workspace would make the user unrestricted.
		if claims.WorkspaceID == "" {
			return nil, fmt.Errorf("%w: user token has no workspace", ErrInvalidToken)
		}
		return UserPrincipal{
			UserID:         claims.Subject,
			Email:          claims.Email,
			WorkspaceID:    claims.WorkspaceID,
			OrganizationID: claims.OrganizationID,
		}, nil
	case "service":
		if claims.Subject == "" {
			return nil, ErrInvalidToken
		}
		return ServicePrincipal{Name: claims.Subject}, nil
	}
	return nil, ErrInvalidToken
}
