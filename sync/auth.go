package sync

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Operation names carried in a token's ops claim.
const (
	OpEnqueue       = "enqueue"
	OpQueueStatus   = "queue-status"
	OpQueueSkip     = "queue-skip"
	OpBatchStatus   = "batch-status"
	OpBatchRun      = "batch-run"
	OpBatchSleep    = "batch-sleep"
	OpBatchSkip     = "batch-skip"
	OpIntervalGet   = "interval-get"
	OpIntervalSet   = "interval-set"
	OpTargetsGet    = "targets-get"
	OpTargetsAdd    = "targets-add"
	OpTargetsRemove = "targets-remove"
	OpWatermarks    = "watermarks"
	OpStats         = "stats"
	OpEvents        = "events"
	OpShutdown      = "shutdown"

	// OpAll grants every operation.
	OpAll = "*"
)

// Claims is the JWT payload of an operator token.
type Claims struct {
	Ops []string `json:"ops"`
	jwt.RegisteredClaims
}

// Allows reports whether the token grants op.
func (c *Claims) Allows(op string) bool {
	return slices.Contains(c.Ops, OpAll) || slices.Contains(c.Ops, op)
}

// Authorizer checks HS256 operator tokens. Each control operation is
// authorized on its own; holding one op grants nothing else. An Authorizer
// with no secret lets every request through.
type Authorizer struct {
	secret []byte
}

func NewAuthorizer(secret string) *Authorizer {
	return &Authorizer{secret: []byte(secret)}
}

// Enabled reports whether tokens are checked.
func (a *Authorizer) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// Mint signs a token granting ops, valid for ttl (no expiry if ttl <= 0).
func (a *Authorizer) Mint(subject string, ops []string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("mint token: no secret configured")
	}
	now := nowFunc()
	claims := Claims{
		Ops: ops,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return signed, nil
}

// Check validates the bearer token in r and that it grants op.
func (a *Authorizer) Check(r *http.Request, op string) error {
	if !a.Enabled() {
		return nil
	}
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return ErrUnauthorized
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(nowFunc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !claims.Allows(op) {
		return fmt.Errorf("%w: token does not grant %s", ErrForbidden, op)
	}
	return nil
}

// Require wraps next so it runs only for requests authorized for op.
func (a *Authorizer) Require(op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.Check(r, op); err != nil {
			sub("auth").Warn("request rejected", "op", op, "path", r.URL.Path, "err", err)
			if errors.Is(err, ErrForbidden) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
