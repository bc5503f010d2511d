package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
)

const (
	RoleParticipant = "participant"
	RoleMinter      = "minter"
	RoleAdmin       = "admin"

	identityContextKey = "kessen.identity"
	tokenIssuer        = "kessen"
)

var (
	ErrMissingBearerToken = errors.New("missing bearer token")
	ErrInvalidToken       = errors.New("invalid token")
)

// Identity is the authenticated caller. Subject is the participant account.
type Identity struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

func (id Identity) HasRole(roles ...string) bool {
	for _, role := range roles {
		if id.Role == role {
			return true
		}
	}

	return false
}

type Claims struct {
	Role string `json:"role"`

	jwt.RegisteredClaims
}

type AuthService struct {
	Secret   []byte
	TokenTTL time.Duration
}

func NewAuthService(i do.Injector) (*AuthService, error) {
	secret := do.MustInvokeNamed[string](i, "jwt-secret")
	tokenTTLMinutes := do.MustInvokeNamed[int](i, "token-ttl-minutes")

	return &AuthService{
		Secret:   []byte(secret),
		TokenTTL: time.Duration(tokenTTLMinutes) * time.Minute,
	}, nil
}

func (s *AuthService) Sign(identity Identity) (string, time.Time, error) {
	if len(identity.Subject) == 0 {
		return "", time.Time{}, fmt.Errorf("%w: empty subject", ErrValidation)
	}

	if len(identity.Role) == 0 {
		identity.Role = RoleParticipant
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.TokenTTL)

	//nolint:exhaustruct
	claims := Claims{
		Role: identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return token, expiresAt, nil
}

func (s *AuthService) Verify(token string) (Identity, error) {
	//nolint:exhaustruct
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("%w: unexpected signing method", ErrInvalidToken)
		}

		return s.Secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || len(claims.Subject) == 0 {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		Subject: claims.Subject,
		Role:    claims.Role,
	}, nil
}

// RequireIdentity rejects requests without a valid bearer token and stores
// the caller's identity on the echo context.
func (s *AuthService) RequireIdentity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if len(token) == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, ErrMissingBearerToken.Error())
			}

			identity, err := s.Verify(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidToken.Error())
			}

			c.Set(identityContextKey, identity)

			return next(c)
		}
	}
}

func IdentityFromContext(c echo.Context) (Identity, bool) {
	identity, ok := c.Get(identityContextKey).(Identity)

	return identity, ok
}

func BearerToken(header string) string {
	header = strings.TrimSpace(header)

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}
