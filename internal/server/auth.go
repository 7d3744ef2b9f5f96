package server

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"
	pkghttp "swapsmith/pkg/http"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
}

type contextKey int

const identityKey contextKey = iota

// IdentityFrom returns the caller identity installed by the auth
// middleware.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}

// VerifierConfig holds token verification settings.
type VerifierConfig struct {
	Issuer      string
	JWKSURL     string
	HS256Secret string // dev fallback when no JWKS endpoint is configured
}

// Verifier validates bearer tokens against the identity provider. RS256
// tokens are checked against the provider's JWKS; HS256 is a
// development fallback.
type Verifier struct {
	cfg    VerifierConfig
	logger core.ILogger
	jwks   *pkghttp.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	refreshed time.Time
}

// NewVerifier builds a verifier. The JWKS fetch rides the shared
// resilient client so a flapping identity provider gets the same retry
// and breaker treatment as the aggregator.
func NewVerifier(cfg VerifierConfig, logger core.ILogger) *Verifier {
	v := &Verifier{
		cfg:    cfg,
		logger: logger.WithField("component", "auth"),
		keys:   make(map[string]*rsa.PublicKey),
	}
	if cfg.JWKSURL != "" {
		v.jwks = pkghttp.NewClient(cfg.JWKSURL, 5*time.Second, 0, nil)
	}
	return v
}

// Verify parses and validates one bearer token, returning the caller
// identity from the subject claim.
func (v *Verifier) Verify(tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	token, err := jwt.Parse(tokenStr, v.keyFor, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", apperrors.ErrUnauthorized)
	}
	return &Identity{UserID: sub}, nil
}

func (v *Verifier) keyFor(token *jwt.Token) (interface{}, error) {
	switch token.Method.Alg() {
	case "HS256":
		if v.cfg.HS256Secret == "" {
			return nil, fmt.Errorf("HS256 tokens not accepted")
		}
		return []byte(v.cfg.HS256Secret), nil
	case "RS256":
		kid, _ := token.Header["kid"].(string)
		return v.rsaKey(kid)
	}
	return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
}

// rsaKey resolves a JWKS key by ID, refreshing the cache when the key is
// unknown or the cache is older than an hour.
func (v *Verifier) rsaKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	fresh := time.Since(v.refreshed) < time.Hour
	v.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := v.refreshKeys(); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

type jwksDocument struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (v *Verifier) refreshKeys() error {
	if v.jwks == nil {
		return fmt.Errorf("no JWKS endpoint configured")
	}

	body, err := v.jwks.Get(context.Background(), "", nil)
	if err != nil {
		return fmt.Errorf("fetch JWKS: %w", err)
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: int(new(big.Int).SetBytes(eBytes).Int64()),
		}
	}

	v.mu.Lock()
	v.keys = keys
	v.refreshed = time.Now()
	v.mu.Unlock()
	v.logger.Debug("Refreshed JWKS cache", "keys", len(keys))
	return nil
}

// authenticate wraps a handler with bearer token verification.
func (s *Server) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			writeError(w, apperrors.ErrUnauthorized)
			return
		}

		identity, err := s.verifier.Verify(tokenStr)
		if err != nil {
			writeError(w, apperrors.ErrUnauthorized)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	}
}

// requireSelf enforces IDOR protection: the userId named in the request
// must be the authenticated caller.
func requireSelf(r *http.Request, userID string) error {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		return apperrors.ErrUnauthorized
	}
	if userID == "" {
		return &apperrors.ValidationError{Fields: []string{"userId"}, Message: "userId is required"}
	}
	if identity.UserID != userID {
		return apperrors.ErrForbidden
	}
	return nil
}

// requireAdmin wraps a handler with an admin check on top of
// authentication.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.authenticate(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFrom(r.Context())
		user, err := s.store.GetUser(r.Context(), identity.UserID)
		if err != nil || !user.IsAdmin {
			writeError(w, apperrors.ErrForbidden)
			return
		}
		next(w, r)
	})
}
