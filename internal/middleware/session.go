package middleware // reusable HTTP middleware for the redemption API

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/prizedraw/ticket-redemption/internal/utils"
)

// claimsKey is where verified token claims are stored on the echo context.
const claimsKey = "claims"

// TokenAuth returns an Echo middleware that validates a Bearer credential
// and injects its claims into the request context.  Only tokens whose
// profile is in the allowed set pass; a redemption-profile proof cannot
// drive prize selection endpoints that expect a session.  Verification is
// uniform by design: forged, malformed and expired tokens all produce the
// same 401 so the response leaks nothing about why the token failed.
func TokenAuth(codec *utils.Codec, profiles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		allowed[p] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credential"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims, err := codec.Verify(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credential"})
			}
			if len(allowed) > 0 && !allowed[claims.Profile] {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credential"})
			}

			// Expose the claims and the ticket id for handlers and the rate
			// limiter.  The claims are identity only; every business rule is
			// re-validated against the store.
			c.Set(claimsKey, claims)
			c.Set("ticket_id", claims.TicketID)
			return next(c)
		}
	}
}

// ClaimsFrom extracts the verified claims placed on the context by
// TokenAuth.  Returns nil when the middleware did not run.
func ClaimsFrom(c echo.Context) *utils.Claims {
	if v := c.Get(claimsKey); v != nil {
		if claims, ok := v.(*utils.Claims); ok {
			return claims
		}
	}
	return nil
}
