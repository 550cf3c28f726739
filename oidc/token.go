package oidc

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fantasma-id/fantasma/crypto"
)

// ClockSkew is the leeway applied to exp/iat checks.
const ClockSkew = 60 * time.Second

// SigningMethodMLDSA implements the ML-DSA-65 JWS algorithm for
// golang-jwt. Signing takes a *crypto.SigningKey; verification takes the
// packed public key bytes.
type SigningMethodMLDSA struct{}

// MethodMLDSA65 is the singleton signing method instance.
var MethodMLDSA65 = &SigningMethodMLDSA{}

func init() {
	jwt.RegisterSigningMethod(crypto.AlgMLDSA65, func() jwt.SigningMethod { return MethodMLDSA65 })
}

func (m *SigningMethodMLDSA) Alg() string { return crypto.AlgMLDSA65 }

func (m *SigningMethodMLDSA) Sign(signingString string, key interface{}) ([]byte, error) {
	sk, ok := key.(*crypto.SigningKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	return sk.Sign([]byte(signingString))
}

func (m *SigningMethodMLDSA) Verify(signingString string, sig []byte, key interface{}) error {
	pub, ok := key.([]byte)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	if err := crypto.Verify(pub, []byte(signingString), sig); err != nil {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// IDTokenClaims is the payload of an issued ID token.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Nonce    string   `json:"nonce,omitempty"`
	AuthTime int64    `json:"auth_time,omitempty"`
	ZkClaims ZkClaims `json:"zk_claims,omitempty"`
}

// Signer issues and validates ID tokens for one issuer identity.
type Signer struct {
	Issuer string
	Key    *crypto.SigningKey
}

// IDToken mints a compact JWS for the given flow.
func (s *Signer) IDToken(clientID, subject, nonce string, zk ZkClaims, authTime time.Time, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Nonce:    nonce,
		AuthTime: authTime.UTC().Unix(),
		ZkClaims: zk,
	}

	token := jwt.NewWithClaims(MethodMLDSA65, claims)
	token.Header["kid"] = s.Key.KeyID()
	signed, err := token.SignedString(s.Key)
	if err != nil {
		return "", fmt.Errorf("sign id token: %w", err)
	}
	return signed, nil
}

// Parse validates a token issued by this signer and returns its claims.
func (s *Signer) Parse(tokenString string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != crypto.AlgMLDSA65 {
				return nil, fmt.Errorf("unexpected signing algorithm %q", t.Method.Alg())
			}
			return s.Key.PublicKeyBytes(), nil
		},
		jwt.WithValidMethods([]string{crypto.AlgMLDSA65}),
		jwt.WithIssuer(s.Issuer),
		jwt.WithLeeway(ClockSkew),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// JWK is a single key in the JWK Set. ML-DSA keys use the AKP (Algorithm
// Key Pair) key type with the packed public key in "pub".
type JWK struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Pub string `json:"pub"`
}

// JWKSet is the /jwks response body.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the signer's current key set; rotation is kid-based.
func (s *Signer) JWKS() JWKSet {
	return JWKSet{Keys: []JWK{{
		Kty: "AKP",
		Alg: crypto.AlgMLDSA65,
		Use: "sig",
		Kid: s.Key.KeyID(),
		Pub: base64.RawURLEncoding.EncodeToString(s.Key.PublicKeyBytes()),
	}}}
}

// TokenResponse is the /token success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}
