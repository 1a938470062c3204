package auth

import (
	"crypto"
	"errors"
	"fmt"
	"os"

	jwt "github.com/golang-jwt/jwt/v5"
)

var errKeyPairMismatch = errors.New("public key does not belong to private key")

// SigningKeys is the asymmetric key pair tokens are signed and verified with.
// It is built once at startup and never mutated.
type SigningKeys struct {
	Method  jwt.SigningMethod
	Private crypto.PrivateKey
	Public  crypto.PublicKey
}

// LoadSigningKeys reads a PEM key pair from disk.
func LoadSigningKeys(algorithm, privatePath, publicPath string) (*SigningKeys, error) {
	privatePEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	publicPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParseSigningKeys(algorithm, privatePEM, publicPEM)
}

// ParseSigningKeys decodes a PEM key pair for the named JWS algorithm
// (EdDSA, RS256 or ES256).
func ParseSigningKeys(algorithm string, privatePEM, publicPEM []byte) (*SigningKeys, error) {
	var (
		keys = &SigningKeys{}
		err  error
	)

	switch algorithm {
	case jwt.SigningMethodEdDSA.Alg():
		keys.Method = jwt.SigningMethodEdDSA
		if keys.Private, err = jwt.ParseEdPrivateKeyFromPEM(privatePEM); err != nil {
			return nil, fmt.Errorf("parse ed25519 private key: %w", err)
		}
		if keys.Public, err = jwt.ParseEdPublicKeyFromPEM(publicPEM); err != nil {
			return nil, fmt.Errorf("parse ed25519 public key: %w", err)
		}
	case jwt.SigningMethodRS256.Alg():
		keys.Method = jwt.SigningMethodRS256
		if keys.Private, err = jwt.ParseRSAPrivateKeyFromPEM(privatePEM); err != nil {
			return nil, fmt.Errorf("parse rsa private key: %w", err)
		}
		if keys.Public, err = jwt.ParseRSAPublicKeyFromPEM(publicPEM); err != nil {
			return nil, fmt.Errorf("parse rsa public key: %w", err)
		}
	case jwt.SigningMethodES256.Alg():
		keys.Method = jwt.SigningMethodES256
		if keys.Private, err = jwt.ParseECPrivateKeyFromPEM(privatePEM); err != nil {
			return nil, fmt.Errorf("parse ecdsa private key: %w", err)
		}
		if keys.Public, err = jwt.ParseECPublicKeyFromPEM(publicPEM); err != nil {
			return nil, fmt.Errorf("parse ecdsa public key: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}

	if err := matchKeyPair(keys.Private, keys.Public); err != nil {
		return nil, fmt.Errorf("%s key pair: %w", algorithm, err)
	}
	return keys, nil
}

// matchKeyPair fails when pub was not derived from priv. A mismatched pair
// would otherwise load fine and reject every token it signs.
func matchKeyPair(priv crypto.PrivateKey, pub crypto.PublicKey) error {
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return fmt.Errorf("private key %T cannot sign", priv)
	}
	derived, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return fmt.Errorf("public key %T is not comparable", signer.Public())
	}
	if !derived.Equal(pub) {
		return errKeyPairMismatch
	}
	return nil
}
