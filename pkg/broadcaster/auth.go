package broadcaster

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"

	"github.com/product-labo/Meta-sub005/internal/config"
)

// ErrUnauthorized is returned when a handshake token does not grant the wallet
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator checks that a handshake token grants access to a wallet
type Authenticator interface {
	Authenticate(token, walletID string) error
}

// NoopAuthenticator accepts every handshake
type NoopAuthenticator struct{}

func (NoopAuthenticator) Authenticate(string, string) error { return nil }

// WalletClaims are the claims of a subscriber token. The wallets claim
// lists the wallets the bearer may follow; without it the subject is the
// single allowed wallet.
type WalletClaims struct {
	Wallets []string `json:"wallets,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims grant walletID
func (c *WalletClaims) Allows(walletID string) bool {
	if len(c.Wallets) > 0 {
		return slices.Contains(c.Wallets, walletID)
	}
	return c.Subject != "" && c.Subject == walletID
}

// JWTAuthenticator validates HS256 tokens signed with a shared secret
type JWTAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a JWT authenticator. A non-empty issuer must
// match the token's iss claim.
func NewJWTAuthenticator(secret, issuer string) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTAuthenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

func (a *JWTAuthenticator) Authenticate(token, walletID string) error {
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims := &WalletClaims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: invalid token: %v", ErrUnauthorized, err)
	}
	if !claims.Allows(walletID) {
		return fmt.Errorf("%w: token does not grant wallet %s", ErrUnauthorized, walletID)
	}
	return nil
}

// NewAuthenticator returns the authenticator for the configured settings
func NewAuthenticator(cfg config.AuthConfig) (Authenticator, error) {
	if !cfg.Enabled {
		return NoopAuthenticator{}, nil
	}
	return NewJWTAuthenticator(cfg.Secret, cfg.Issuer)
}
