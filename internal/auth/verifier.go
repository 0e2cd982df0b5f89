package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "bearer "

// Identity is the verified caller. Subject is the owner id for every record
// the caller touches.
type Identity struct {
	Subject string
	Claims  jwt.RegisteredClaims
}

// TokenVerifier turns an Authorization header value into an Identity.
type TokenVerifier interface {
	Verify(ctx context.Context, authorization string) (Identity, error)
}

// KeyProvider looks up a signing key by key id.
type KeyProvider interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// VerifierOptions holds the optional claim checks. Empty values are not
// enforced.
type VerifierOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier checks RS256 bearer tokens against keys from a KeyProvider.
type Verifier struct {
	keys   KeyProvider
	parser *jwt.Parser
}

// NewVerifier creates a Verifier.
func NewVerifier(keys KeyProvider, opts VerifierOptions) *Verifier {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.Leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(opts.Leeway))
	}
	return &Verifier{keys: keys, parser: jwt.NewParser(parserOpts...)}
}

// Verify authenticates the Authorization header value and returns the
// token's subject. Failures match ErrUnauthorized, except an unreachable key
// set, which matches ErrKeySetUnavailable.
func (v *Verifier) Verify(ctx context.Context, authorization string) (Identity, error) {
	raw, err := BearerToken(authorization)
	if err != nil {
		return Identity{}, err
	}

	// Structural decode only; nothing from this token is trusted yet.
	unverified, _, err := v.parser.ParseUnverified(raw, &jwt.RegisteredClaims{})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: decode token: %v", ErrUnauthorized, err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return Identity{}, fmt.Errorf("%w: token has no key id", ErrUnauthorized)
	}

	key, err := v.keys.Key(ctx, kid)
	if err != nil {
		return Identity{}, err
	}

	var claims jwt.RegisteredClaims
	_, err = v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return Identity{Subject: claims.Subject, Claims: claims}, nil
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(authorization string) (string, error) {
	if authorization == "" {
		return "", fmt.Errorf("%w: no authorization header", ErrUnauthorized)
	}
	if len(authorization) < len(bearerPrefix) || !strings.EqualFold(authorization[:len(bearerPrefix)], bearerPrefix) {
		return "", fmt.Errorf("%w: authorization header is not a bearer token", ErrUnauthorized)
	}
	token := strings.TrimSpace(authorization[len(bearerPrefix):])
	if token == "" {
		return "", fmt.Errorf("%w: empty bearer token", ErrUnauthorized)
	}
	return token, nil
}
