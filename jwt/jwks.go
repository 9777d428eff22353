package jwt

import (
	"encoding/base64"
)

// JWK is the public form of one P-256 verification key.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
}

// JWKS is a JSON Web Key Set document.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS publishes every key that currently verifies. An expired PREVIOUS is omitted.
func (r *Registry) JWKS() JWKS {
	set := r.set.Load()
	keys := []*SigningKey{set.current, set.next}
	if set.previous != nil && r.config.Now().Sub(set.promotedAt) <= r.config.Grace {
		keys = append(keys, set.previous)
	}

	out := JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, k := range keys {
		jwk, ok := toJWK(k)
		if ok {
			out.Keys = append(out.Keys, jwk)
		}
	}
	return out
}

func toJWK(k *SigningKey) (JWK, bool) {
	pub, err := k.Public().ECDH()
	if err != nil {
		return JWK{}, false
	}
	// uncompressed point: 0x04 || X || Y
	raw := pub.Bytes()
	if len(raw) != 65 {
		return JWK{}, false
	}
	enc := base64.RawURLEncoding
	return JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   enc.EncodeToString(raw[1:33]),
		Y:   enc.EncodeToString(raw[33:65]),
		Kid: k.KID,
		Use: "sig",
		Alg: Algorithm,
	}, true
}
