// File: keys.go

package tokenizer

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrKeysExist is returned by WriteKeyPair when a key file is already present
// and overwriting was not requested.
var ErrKeysExist = errors.New("encryption keys already exist")

// ResolveKeyPath returns file relative to the key directory base. Absolute
// paths are returned unchanged.
func ResolveKeyPath(base, file string) string {
	if filepath.IsAbs(file) || base == "" {
		return file
	}
	return filepath.Join(base, file)
}

// isInlinePEM reports whether a configured key value is PEM text rather than
// a file name.
func isInlinePEM(value string) bool {
	return strings.Contains(value, "-----BEGIN")
}

// loadKeyMaterial reads a configured key, either inline PEM or a file
// resolved against base.
func loadKeyMaterial(base, value string) ([]byte, error) {
	if value == "" {
		return nil, ErrKeyMaterialMissing
	}
	if isInlinePEM(value) {
		return []byte(value), nil
	}

	path := ResolveKeyPath(base, value)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyMaterialMissing, path)
		}
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrKeyMaterialMissing, path)
	}
	return data, nil
}

// Helper functions to parse PEM encoded keys
func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the RSA private key")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		// Try parsing as PKCS8
		pkcs8Key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
		}
		key, ok := pkcs8Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not a valid RSA private key")
		}
		return key, nil
	}
	return key, nil
}

func parseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	pub, err := parsePublicKey(pemBytes, "RSA")
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not a valid RSA public key")
	}
	return rsaPub, nil
}

func parseECDSAPrivateKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the ECDSA private key")
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		// Try parsing as PKCS8
		pkcs8Key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ECDSA private key: %w", err)
		}
		key, ok := pkcs8Key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not a valid ECDSA private key")
		}
		return key, nil
	}
	return key, nil
}

func parseECDSAPublicKey(pemBytes []byte) (*ecdsa.PublicKey, error) {
	pub, err := parsePublicKey(pemBytes, "ECDSA")
	if err != nil {
		return nil, err
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not a valid ECDSA public key")
	}
	return ecdsaPub, nil
}

func parseEdDSAPrivateKey(pemBytes []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the EdDSA private key")
	}

	pkcs8Key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse EdDSA private key: %w", err)
	}
	key, ok := pkcs8Key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not a valid EdDSA private key")
	}
	return key, nil
}

func parseEdDSAPublicKey(pemBytes []byte) (ed25519.PublicKey, error) {
	pub, err := parsePublicKey(pemBytes, "EdDSA")
	if err != nil {
		return nil, err
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not a valid EdDSA public key")
	}
	return edPub, nil
}

// parsePublicKey accepts a PKIX public key or an X.509 certificate.
func parsePublicKey(pemBytes []byte, family string) (any, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the %s public key", family)
	}

	// Try parsing as PKIX
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Try parsing as X509 certificate
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s public key: %w", family, err)
		}
		return cert.PublicKey, nil
	}
	return pub, nil
}

// checkFilePermissions checks if the file has the required permissions
func checkFilePermissions(path string, requiredPerm os.FileMode) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	// Get the actual permissions
	actualPerm := info.Mode().Perm()

	// Check if the actual permissions are more permissive than required
	if actualPerm&^requiredPerm != 0 {
		return fmt.Errorf("file %s has permissions %#o, expected %#o", path, actualPerm, requiredPerm)
	}

	return nil
}

// GenerateKeyPair creates a PEM encoded private (PKCS8) and public (PKIX) key
// for algo. RSA keys are at least bits long and never shorter than eight
// times the hash size, so RS512 always yields a 4096-bit key.
func GenerateKeyPair(algo string, bits int) (privatePEM, publicPEM []byte, err error) {
	var key any

	switch {
	case strings.HasPrefix(algo, "RS") && len(algo) == 5:
		size, err := strconv.Atoi(algo[2:])
		if err != nil || (size != 256 && size != 384 && size != 512) {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algo)
		}
		key, err = rsa.GenerateKey(rand.Reader, max(size*8, bits))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}

	case strings.HasPrefix(algo, "ES"):
		var curve elliptic.Curve
		switch algo {
		case "ES256":
			curve = elliptic.P256()
		case "ES384":
			curve = elliptic.P384()
		case "ES512":
			curve = elliptic.P521()
		default:
			return nil, nil, fmt.Errorf("%w: unsupported ES curve %s", ErrUnsupportedAlgorithm, algo)
		}
		key, err = ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
		}

	case algo == "EdDSA":
		_, key, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate EdDSA key: %w", err)
		}

	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algo)
	}

	privateBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	var public any
	switch k := key.(type) {
	case *rsa.PrivateKey:
		public = &k.PublicKey
	case *ecdsa.PrivateKey:
		public = &k.PublicKey
	case ed25519.PrivateKey:
		public = k.Public()
	}
	publicBytes, err := x509.MarshalPKIXPublicKey(public)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateBytes})
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicBytes})
	return privatePEM, publicPEM, nil
}

// WriteKeyPair stores a key pair, creating parent directories as needed.
// The private key is written with mode 0600 and the public key with 0660.
// Existing files are only replaced when force is set.
func WriteKeyPair(privatePath, publicPath string, privatePEM, publicPEM []byte, force bool) error {
	if !force {
		for _, path := range []string{publicPath, privatePath} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%w: %s", ErrKeysExist, path)
			}
		}
	}

	files := []struct {
		path string
		data []byte
		perm os.FileMode
	}{
		{publicPath, publicPEM, 0660},
		{privatePath, privatePEM, 0600},
	}
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		if err := os.WriteFile(f.path, f.data, f.perm); err != nil {
			return fmt.Errorf("failed to write file %s: %w", f.path, err)
		}
		// WriteFile keeps the mode of an existing file
		if err := os.Chmod(f.path, f.perm); err != nil {
			return fmt.Errorf("failed to chmod %s: %w", f.path, err)
		}
	}
	return nil
}

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSecret returns a random alphanumeric string of length n.
func GenerateSecret(n int) (string, error) {
	limit := big.NewInt(int64(len(secretAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		buf[i] = secretAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
