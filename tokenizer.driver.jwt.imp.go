// File: tokenizer.driver.jwt.imp.go

package tokenizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTDriver issues self-contained JSON Web Tokens.
//
// Access tokens carry jti, iss, sub, aud (the record scopes), exp and iat
// plus the subject's custom claims. Refresh tokens carry jti, iss, sub, exp,
// nbf and iat, with exp set to the refresh expiry.
//
// HS256/384/512 sign with secret_key. RS*, ES* and EdDSA load private_key
// and public_key, each either inline PEM or a file name resolved against
// the registry key path. Private key files must not be readable by group or
// others.
type JWTDriver struct {
	driverBase
	signingMethod jwt.SigningMethod
	privateKey    interface{} // Key used for signing (HMAC secret, RSA, ECDSA or Ed25519 private key)
	publicKey     interface{} // Key used for verification (HMAC secret, RSA, ECDSA or Ed25519 public key)
}

// NewJWTDriver creates a JWT driver and loads its key material.
func NewJWTDriver(name string, cfg DriverConfig, opts DriverOptions) (*JWTDriver, error) {
	algo := cfg.Algo
	if algo == "" {
		algo = "HS256"
	}

	method, err := signingMethodFor(algo)
	if err != nil {
		return nil, err
	}

	driver := &JWTDriver{
		driverBase:    newDriverBase(name, opts),
		signingMethod: method,
	}
	if err := driver.initializeKeys(cfg, opts.KeyPath); err != nil {
		return nil, fmt.Errorf("driver %s: %w", name, err)
	}
	return driver, nil
}

// NewJWTDriverFactory is the registry factory for the jwt kind.
func NewJWTDriverFactory(name string, cfg DriverConfig, opts DriverOptions) (Driver, error) {
	return NewJWTDriver(name, cfg, opts)
}

// signingMethodFor maps an algorithm name to its signing method
func signingMethodFor(algo string) (jwt.SigningMethod, error) {
	switch algo {
	case "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	case "RS256":
		return jwt.SigningMethodRS256, nil
	case "RS384":
		return jwt.SigningMethodRS384, nil
	case "RS512":
		return jwt.SigningMethodRS512, nil
	case "ES256":
		return jwt.SigningMethodES256, nil
	case "ES384":
		return jwt.SigningMethodES384, nil
	case "ES512":
		return jwt.SigningMethodES512, nil
	case "EdDSA":
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algo)
	}
}

func (d *JWTDriver) initializeKeys(cfg DriverConfig, keyPath string) error {
	alg := d.signingMethod.Alg()

	if _, ok := d.signingMethod.(*jwt.SigningMethodHMAC); ok {
		if cfg.SecretKey == "" {
			return fmt.Errorf("%w: secret_key is required for %s", ErrKeyMaterialMissing, alg)
		}
		d.privateKey = []byte(cfg.SecretKey)
		d.publicKey = []byte(cfg.SecretKey)
		return nil
	}

	privateKeyBytes, err := loadKeyMaterial(keyPath, cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to load private key: %w", err)
	}
	if !isInlinePEM(cfg.PrivateKey) {
		if err := checkFilePermissions(ResolveKeyPath(keyPath, cfg.PrivateKey), 0600); err != nil {
			return fmt.Errorf("insecure private key file permissions: %w", err)
		}
	}

	publicKeyBytes, err := loadKeyMaterial(keyPath, cfg.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to load public key: %w", err)
	}

	switch d.signingMethod.(type) {
	case *jwt.SigningMethodRSA:
		if d.privateKey, err = parseRSAPrivateKey(privateKeyBytes); err != nil {
			return err
		}
		if d.publicKey, err = parseRSAPublicKey(publicKeyBytes); err != nil {
			return err
		}

	case *jwt.SigningMethodECDSA:
		if d.privateKey, err = parseECDSAPrivateKey(privateKeyBytes); err != nil {
			return err
		}
		if d.publicKey, err = parseECDSAPublicKey(publicKeyBytes); err != nil {
			return err
		}

	case *jwt.SigningMethodEd25519:
		if d.privateKey, err = parseEdDSAPrivateKey(privateKeyBytes); err != nil {
			return err
		}
		if d.publicKey, err = parseEdDSAPublicKey(publicKeyBytes); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
	return nil
}

// Algorithm returns the JWT alg header value.
func (d *JWTDriver) Algorithm() string {
	return d.signingMethod.Alg()
}

func (d *JWTDriver) GenerateAccessToken(subject Subject, record *TokenRecord) (string, error) {
	token := jwt.NewWithClaims(d.signingMethod, newAccessMapClaims(subject, record, d.clock.Now()))
	signed, err := token.SignedString(d.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

func (d *JWTDriver) GenerateRefreshToken(subject Subject, record *TokenRecord) (string, error) {
	token := jwt.NewWithClaims(d.signingMethod, newRefreshMapClaims(subject, record, d.clock.Now()))
	signed, err := token.SignedString(d.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, nil
}

// ParseClaims verifies token and returns its claims. Failures are reported
// as ErrTokenMalformed, ErrUnsupportedAlgorithm, ErrSignatureInvalid,
// ErrTokenExpired or ErrTokenNotYetValid.
func (d *JWTDriver) ParseClaims(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != d.signingMethod.Alg() {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, token.Header["alg"])
		}
		return d.publicKey, nil
	}, jwt.WithTimeFunc(d.clock.Now))
	if err != nil {
		return nil, classifyJWTError(err)
	}
	return claims, nil
}

// Verify reports why token is unusable, or nil.
func (d *JWTDriver) Verify(tokenString string) error {
	_, err := d.ParseClaims(tokenString)
	return err
}

func (d *JWTDriver) Validate(tokenString string) bool {
	return d.Verify(tokenString) == nil
}

func (d *JWTDriver) BuildTokens(ctx context.Context, record *TokenRecord, subject Subject, checker UniquenessChecker) (*TokenPair, error) {
	return d.buildTokens(ctx, d, record, subject, checker)
}

// classifyJWTError maps jwt parser errors onto the package's causes.
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return ErrUnsupportedAlgorithm
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// alg header names a method that is not registered
		return ErrUnsupportedAlgorithm
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenNotYetValid
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
