package utils // package utils provides the bearer-credential codec and nonce helpers

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
	"github.com/google/uuid"       // random verification nonces
)

// Token profiles.  A redemption token is the short-lived proof issued right
// after a code is verified; a session token carries the prize-selection and
// checkout flow and is re-issued on every successful state-changing call.
const (
	ProfileRedemption = "redemption"
	ProfileSession    = "session"
)

// ErrInvalidToken is the uniform verification failure.  Signature mismatch,
// malformed payload and expiry all collapse into this value so that callers
// cannot distinguish a forged token from an expired one.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of a bearer credential.  It binds a ticket identity
// to a session and carries a snapshot of reservation state for client-side
// display.  The snapshot is a cache, never a source of truth: every
// mutating operation re-reads the ticket store before acting.
type Claims struct {
	TicketID      uint64 `json:"tid"`
	Email         string `json:"email,omitempty"`
	Kind          string `json:"kind"`
	Profile       string `json:"profile"`
	HeldPrizeID   string `json:"held_prize_id,omitempty"`
	HoldExpiresAt int64  `json:"hold_expires_at,omitempty"` // unix seconds, 0 when no hold
	jwt.RegisteredClaims
}

// IssuedToken pairs a serialized token with its expiry so handlers can
// report the deadline to clients without re-parsing the JWT.
type IssuedToken struct {
	Token     string    // the serialized JWT string
	Profile   string    // redemption or session
	ExpiresAt time.Time // UTC expiration time
}

// Codec signs and verifies bearer credentials with a server-held HMAC
// secret.  The two TTLs correspond to the two token profiles.
type Codec struct {
	secret        []byte
	redemptionTTL time.Duration
	sessionTTL    time.Duration
}

// NewCodec returns a Codec signing with the given secret.  redemptionTTL is
// the lifetime of code-verification proofs (around ten minutes);
// sessionTTL is the lifetime of flow tokens (around two hours).
func NewCodec(secret string, redemptionTTL, sessionTTL time.Duration) *Codec {
	return &Codec{secret: []byte(secret), redemptionTTL: redemptionTTL, sessionTTL: sessionTTL}
}

// SessionTTL exposes the session window so the engine can align the email
// binding window with token lifetime.
func (c *Codec) SessionTTL() time.Duration { return c.sessionTTL }

// Issue builds and signs an HS256 token for the given claims and profile.
// The Profile, ExpiresAt and IssuedAt fields of the claims are overwritten
// here; callers only fill the identity and snapshot fields.
func (c *Codec) Issue(claims Claims, profile string) (IssuedToken, error) {
	ttl := c.sessionTTL
	if profile == ProfileRedemption {
		ttl = c.redemptionTTL
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims.Profile = profile
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: signed, Profile: profile, ExpiresAt: exp}, nil
}

// Verify parses and validates a serialized token.  It fails closed: any
// signature mismatch, malformed payload, unexpected signing method or
// elapsed expiry yields ErrInvalidToken with no further detail.
func (c *Codec) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Profile != ProfileRedemption && claims.Profile != ProfileSession {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewVerificationNonce returns the random value stored on a ticket at first
// redemption and used to correlate later verification steps.
func NewVerificationNonce() string {
	return uuid.NewString()
}
