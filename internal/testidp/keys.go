package testidp

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// keyPair is the provider's RS256 signing key.
type keyPair struct {
	keyID      string
	privateKey *rsa.PrivateKey
}

func generateKeyPair(keyID string) (*keyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &keyPair{keyID: keyID, privateKey: privateKey}, nil
}

// sign creates a signed JWT carrying the key id in its header.
func (kp *keyPair) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kp.keyID
	signed, err := token.SignedString(kp.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// jwks returns the JSON Web Key Set publishing the public half of the key.
func (kp *keyPair) jwks() ([]byte, error) {
	key, err := jwk.FromRaw(&kp.privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWK: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, kp.keyID); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, err
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, err
	}
	return json.Marshal(set)
}
