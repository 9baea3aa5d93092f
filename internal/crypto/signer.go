// Package crypto provides request signing and key management for the two
// venue APIs: RSA-PSS request signatures for Kalshi, EIP-712 auth signatures
// and HMAC headers for the Polymarket CLOB.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RequestSigner produces Kalshi authentication headers. The signature payload
// is "timestampMs + METHOD + path + body", signed with RSA-PSS (SHA-256,
// MGF1-SHA256, maximum salt length).
//
// The signed path is the full relative request URI including the query
// string. This is a fixed contract: callers must pass exactly the path they
// will send on the wire.
type RequestSigner struct {
	keyID      string
	privateKey *rsa.PrivateKey
}

// NewRequestSigner creates a signer from a PEM-encoded RSA private key.
// Construction fails when the key cannot be parsed; a signer is never left in
// a keyless state.
func NewRequestSigner(keyID string, pemBytes []byte) (*RequestSigner, error) {
	if keyID == "" {
		return nil, fmt.Errorf("crypto: key id must not be empty")
	}

	key, err := parseRSAPrivateKey(pemBytes)
	if err != nil {
		return nil, err
	}

	return &RequestSigner{keyID: keyID, privateKey: key}, nil
}

// KeyID returns the venue API key identifier this signer was built with.
func (s *RequestSigner) KeyID() string {
	return s.keyID
}

// RESTHeaders returns the headers for a signed REST request. Kalshi expects a
// single combined header: `WAL-Auth: "{keyID} {timestampMs} {base64sig}"`.
// body may be empty for GET/DELETE requests.
func (s *RequestSigner) RESTHeaders(method, path, body string) (map[string]string, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	sig, err := s.signPayload(ts + strings.ToUpper(method) + path + body)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"WAL-Auth":     fmt.Sprintf("%s %s %s", s.keyID, ts, sig),
		"Content-Type": "application/json",
	}, nil
}

// WSHeaders returns the headers for the WebSocket handshake. The handshake is
// a GET with no body, and the venue expects the key, signature, and timestamp
// in three separate headers.
func (s *RequestSigner) WSHeaders(path string) (map[string]string, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	sig, err := s.signPayload(ts + "GET" + path)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"KALSHI-ACCESS-KEY":       s.keyID,
		"KALSHI-ACCESS-SIGNATURE": sig,
		"KALSHI-ACCESS-TIMESTAMP": ts,
	}, nil
}

// signPayload signs message with RSA-PSS and returns the base64 signature.
func (s *RequestSigner) signPayload(message string) (string, error) {
	hash := sha256.Sum256([]byte(message))

	sig, err := rsa.SignPSS(rand.Reader, s.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	})
	if err != nil {
		return "", fmt.Errorf("crypto: rsa-pss sign: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}

// parseRSAPrivateKey decodes a PEM block and parses it as PKCS#8, falling
// back to PKCS#1.
func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("crypto: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		return pkcs1Key, nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("crypto: expected RSA private key, got %T", key)
	}
	return rsaKey, nil
}
