package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	claimSubject  = "sub"
	claimAgentID  = "agent_id"
	claimUsername = "username"
	claimIssuedAt = "iat"
	claimExpires  = "exp"
)

// JWTMiddleware returns a JWT auth middleware configured for HS256 tokens.
// Browsers cannot set headers on WebSocket upgrades, so the token is also
// accepted from the query string.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ,query:token",
		Skipper:       skipper,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
}

// AgentIDFromContext extracts the agent id from JWT claims.
func AgentIDFromContext(c echo.Context) (string, error) {
	claims, err := claimsFromContext(c)
	if err != nil {
		return "", err
	}
	if agentID := claimString(claims, claimAgentID); agentID != "" {
		return agentID, nil
	}
	if agentID := claimString(claims, claimSubject); agentID != "" {
		return agentID, nil
	}
	return "", echo.NewHTTPError(http.StatusUnauthorized, "agent id missing")
}

// GenerateToken creates a signed JWT for the agent.
func GenerateToken(agentID, username, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(agentID) == "" {
		return "", time.Time{}, fmt.Errorf("agent id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}
	return sign(jwt.MapClaims{
		claimSubject:  agentID,
		claimAgentID:  agentID,
		claimUsername: username,
	}, secret, expiresIn)
}

// RefreshTokenFromContext reissues the caller's token with the same claims
// and the same lifetime it was originally issued with. fallback is used when
// the original lifetime cannot be derived.
func RefreshTokenFromContext(c echo.Context, secret string, fallback time.Duration) (string, time.Time, error) {
	claims, err := claimsFromContext(c)
	if err != nil {
		return "", time.Time{}, err
	}
	lifetime := fallback
	iat, okIat := claimUnix(claims, claimIssuedAt)
	exp, okExp := claimUnix(claims, claimExpires)
	if okIat && okExp && exp > iat {
		lifetime = time.Duration(exp-iat) * time.Second
	}
	if lifetime <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}
	next := jwt.MapClaims{}
	for k, v := range claims {
		if k == claimIssuedAt || k == claimExpires {
			continue
		}
		next[k] = v
	}
	return sign(next, secret, lifetime)
}

func sign(claims jwt.MapClaims, secret string, expiresIn time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims[claimIssuedAt] = now.Unix()
	claims[claimExpires] = expiresAt.Unix()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func claimsFromContext(c echo.Context) (jwt.MapClaims, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func claimUnix(claims jwt.MapClaims, key string) (int64, bool) {
	switch v := claims[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(raw)
	}
}
