package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
)

type RSAKey struct {
	Kid     string
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// KeyManager holds the active signing key and an optional next key that is
// already published in the JWKS ahead of rotation.
type KeyManager struct {
	Active *RSAKey
	Next   *RSAKey
	byKid  map[string]*rsa.PublicKey
}

func LoadPrivateKeyPEM(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKeyPEM(b)
}

func ParsePrivateKeyPEM(b []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("invalid PEM")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not RSA key")
		}
		return rk, nil
	default:
		return nil, errors.New("unsupported key type: " + block.Type)
	}
}

func NewKeyManager(activeKid, activePath, nextKid, nextPath string) (*KeyManager, error) {
	actPriv, err := LoadPrivateKeyPEM(activePath)
	if err != nil {
		return nil, err
	}
	var nxtPriv *rsa.PrivateKey
	if nextKid != "" && nextPath != "" {
		if nxtPriv, err = LoadPrivateKeyPEM(nextPath); err != nil {
			return nil, err
		}
	}
	return NewKeyManagerFromKeys(activeKid, actPriv, nextKid, nxtPriv), nil
}

func NewKeyManagerFromKeys(activeKid string, active *rsa.PrivateKey, nextKid string, next *rsa.PrivateKey) *KeyManager {
	km := &KeyManager{
		Active: &RSAKey{Kid: activeKid, Private: active, Public: &active.PublicKey},
		byKid:  map[string]*rsa.PublicKey{activeKid: &active.PublicKey},
	}
	if next != nil && nextKid != "" {
		km.Next = &RSAKey{Kid: nextKid, Private: next, Public: &next.PublicKey}
		km.byKid[nextKid] = &next.PublicKey
	}
	return km
}

// JWK is the RSA subset of RFC 7517.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

func (km *KeyManager) JWKS() JWKS {
	out := []JWK{}
	add := func(k *RSAKey) {
		if k == nil {
			return
		}
		n := base64.RawURLEncoding.EncodeToString(k.Public.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.Public.E)).Bytes())
		out = append(out, JWK{Kty: "RSA", Kid: k.Kid, Use: "sig", Alg: "RS256", N: n, E: e})
	}
	add(km.Active)
	add(km.Next)
	return JWKS{Keys: out}
}

func (km *KeyManager) PublicByKid(kid string) (*rsa.PublicKey, bool) {
	pk, ok := km.byKid[kid]
	return pk, ok
}
