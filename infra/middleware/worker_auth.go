package middleware

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"calsync_server/pkg/apperr"
	"calsync_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Locals keys set by JWTAuth.
const (
	LocalUserID    = "user_id"
	LocalUserEmail = "user_email"
	LocalUserRole  = "user_role"
)

// SchedulerSecretHeader authenticates the internal batch endpoints.
const SchedulerSecretHeader = "X-Scheduler-Secret"

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`   // RSA modulus
	E   string `json:"e,omitempty"`   // RSA exponent
	Crv string `json:"crv,omitempty"` // EC curve
	X   string `json:"x,omitempty"`   // EC x coordinate
	Y   string `json:"y,omitempty"`   // EC y coordinate
}

// jwksCache caches the Supabase key set for ttl.
type jwksCache struct {
	mu        sync.RWMutex
	keys      []JWK
	fetchedAt time.Time
	ttl       time.Duration
	url       string
	client    *http.Client
}

func (c *jwksCache) key(kid string) (*JWK, error) {
	c.mu.RLock()
	fresh := c.keys != nil && time.Since(c.fetchedAt) < c.ttl
	if fresh {
		for i := range c.keys {
			if c.keys[i].Kid == kid {
				k := c.keys[i]
				c.mu.RUnlock()
				return &k, nil
			}
		}
	}
	c.mu.RUnlock()

	// unknown kid on a fresh set means a rotation; refetch once either way
	if err := c.refresh(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.keys {
		if c.keys[i].Kid == kid {
			k := c.keys[i]
			return &k, nil
		}
	}
	return nil, fmt.Errorf("key not found: %s", kid)
}

func (c *jwksCache) refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.url == "" {
		return fmt.Errorf("JWKS URL not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch failed with status: %d", resp.StatusCode)
	}

	var set struct {
		Keys []JWK `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	c.keys = set.Keys
	c.fetchedAt = time.Now()
	logger.Info("[JWKS] Refreshed, %d keys loaded", len(set.Keys))
	return nil
}

func parseECPublicKey(jwk *JWK) (*ecdsa.PublicKey, error) {
	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y: %w", err)
	}

	var curve elliptic.Curve
	switch jwk.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	default:
		return nil, fmt.Errorf("unsupported curve: %s", jwk.Crv)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

func parseRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode e: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

// JWTVerifier validates Supabase access tokens: HS256 with the project secret,
// ES256/RS256 against the project JWKS.
type JWTVerifier struct {
	secret string
	jwks   *jwksCache
}

// NewJWTVerifier configures the verifier. An empty supabaseURL disables JWKS keys.
func NewJWTVerifier(secret, supabaseURL string) *JWTVerifier {
	v := &JWTVerifier{
		secret: secret,
		jwks:   &jwksCache{ttl: 10 * time.Minute, client: &http.Client{Timeout: 10 * time.Second}},
	}
	if supabaseURL != "" {
		v.jwks.url = strings.TrimSuffix(supabaseURL, "/") + "/auth/v1/.well-known/jwks.json"
	}
	return v
}

func (v *JWTVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.secret == "" {
			return nil, fmt.Errorf("JWT secret not configured")
		}
		return []byte(v.secret), nil
	case *jwt.SigningMethodECDSA, *jwt.SigningMethodRSA:
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("missing kid in token header")
		}
		jwk, err := v.jwks.key(kid)
		if err != nil {
			return nil, fmt.Errorf("failed to get public key: %w", err)
		}
		if jwk.Kty == "EC" {
			return parseECPublicKey(jwk)
		}
		return parseRSAPublicKey(jwk)
	default:
		return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
	}
}

// Claims holds what the handlers need from a verified token.
type Claims struct {
	UserID uuid.UUID
	Email  string
	Role   string
}

// Verify parses tokenString and extracts the caller identity.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, v.keyFunc,
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Minute),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid claims")
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("invalid user id in token")
	}

	out := &Claims{UserID: userID}
	out.Email, _ = claims["email"].(string)
	out.Role = roleFromClaims(claims)
	return out, nil
}

// roleFromClaims prefers app_metadata.role (set by the CRM backend) over the
// top-level Postgres role Supabase always sends.
func roleFromClaims(claims jwt.MapClaims) string {
	if meta, ok := claims["app_metadata"].(map[string]interface{}); ok {
		if role, ok := meta["role"].(string); ok && role != "" {
			return role
		}
	}
	role, _ := claims["role"].(string)
	return role
}

// JWTAuth requires a valid bearer token and stores the caller in Locals.
func JWTAuth(v *JWTVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		claims, err := v.Verify(tokenString)
		if err != nil {
			logger.WithError(err).Warn("[JWTAuth] Token rejected")
			return apperr.New(apperr.CodeInvalidToken, "invalid token", fiber.StatusUnauthorized)
		}

		c.Locals(LocalUserID, claims.UserID)
		c.Locals(LocalUserEmail, claims.Email)
		c.Locals(LocalUserRole, claims.Role)
		return c.Next()
	}
}

// RequireRole allows only callers whose role matches one of roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(LocalUserRole).(string)
		for _, r := range roles {
			if role == r {
				return c.Next()
			}
		}
		return apperr.Forbidden("insufficient role")
	}
}

// SchedulerAuth checks the shared secret sent by the external scheduler.
// An unset secret rejects every call.
func SchedulerAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get(SchedulerSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return apperr.Unauthorized("invalid scheduler secret")
		}
		return c.Next()
	}
}

// UserID returns the authenticated user set by JWTAuth.
func UserID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals(LocalUserID).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
