package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
)

// DefaultTokenTTL is the lifetime of an issued access token.
const DefaultTokenTTL = 24 * time.Hour

// ErrMissingBearer is returned when a request carries no bearer token.
var ErrMissingBearer = errors.New("missing bearer token")

// TokenIssuer signs HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. A non-positive ttl selects DefaultTokenTTL.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for subject. IssuedAt and ExpiresAt on the returned
// claims reflect what was signed.
func (i *TokenIssuer) Issue(claims Claims) (string, *Claims, error) {
	now := i.now()
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(i.ttl).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims.ToMap()))
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, &claims, nil
}

// Verifier validates access tokens. Verified claims are cached by token
// hash so repeated requests with the same token skip signature checks.
type Verifier struct {
	secret []byte
	cache  *expirable.LRU[string, *Claims]
	now    func() time.Time
}

// NewVerifier creates a verifier. cacheTTL bounds how long a verified token
// stays cached; expiry is still checked on every hit.
func NewVerifier(secret string, cacheSize int, cacheTTL time.Duration) *Verifier {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Verifier{
		secret: []byte(secret),
		cache:  expirable.NewLRU[string, *Claims](cacheSize, nil, cacheTTL),
		now:    time.Now,
	}
}

// Verify validates token and returns the caller it identifies. Failures
// are Unauthenticated errors.
func (v *Verifier) Verify(token string) (*authz.SecurityContext, error) {
	claims, err := v.VerifyClaims(token)
	if err != nil {
		return nil, err
	}
	return claims.SecurityContext(), nil
}

// VerifyClaims is Verify without the conversion to a security context.
func (v *Verifier) VerifyClaims(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fhirerr.Unauthenticated("%s", ErrMissingBearer.Error())
	}

	key := HashToken(token)
	if cached, ok := v.cache.Get(key); ok {
		if v.now().Unix() < cached.ExpiresAt {
			return cached, nil
		}
		v.cache.Remove(key)
		return nil, fhirerr.Unauthenticated("token has expired")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fhirerr.Unauthenticated("token has expired")
		}
		return nil, fhirerr.Unauthenticated("invalid token")
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fhirerr.Unauthenticated("invalid token claims")
	}
	claims, err := ClaimsFromMap(mapClaims)
	if err != nil {
		return nil, fhirerr.Unauthenticated("invalid token claims")
	}

	v.cache.Add(key, claims)
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingBearer
	}
	return strings.TrimSpace(token), nil
}

// HashToken creates a SHA256 hash of a token string.
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}
