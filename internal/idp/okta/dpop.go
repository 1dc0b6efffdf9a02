// internal/idp/okta/dpop.go
package okta

import (
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const proofLifetime = 5 * time.Minute

// signProof mints a DPoP proof bound to one HTTP call: method, target
// URL, issue/expiry time and a unique jti, signed with the directory's
// private key. The protected header carries the public key and key id
// so any holder of the registered key can verify it. A non-empty nonce
// (from a provider challenge) is embedded as the `nonce` claim.
func signProof(key jwk.Key, keyID, method, htu, nonce string, now time.Time) (string, error) {
	tok := jwt.New()
	_ = tok.Set("htm", method)
	_ = tok.Set("htu", htu)
	_ = tok.Set(jwt.IssuedAtKey, now)
	_ = tok.Set(jwt.ExpirationKey, now.Add(proofLifetime))
	_ = tok.Set(jwt.JwtIDKey, uuid.NewString())
	if nonce != "" {
		_ = tok.Set("nonce", nonce)
	}

	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return "", err
	}
	hdrs := jws.NewHeaders()
	_ = hdrs.Set("typ", "dpop+jwt")
	_ = hdrs.Set(jws.JWKKey, pub)
	_ = hdrs.Set(jws.KeyIDKey, keyID)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// signClientAssertion mints the private_key_jwt assertion for the token
// exchange: issuer and subject are the client id, audience is the token
// endpoint.
func signClientAssertion(key jwk.Key, keyID, clientID, audience string, now time.Time) (string, error) {
	tok, err := jwt.NewBuilder().
		Issuer(clientID).
		Subject(clientID).
		Audience([]string{audience}).
		IssuedAt(now).
		Expiration(now.Add(proofLifetime)).
		JwtID(uuid.NewString()).
		Build()
	if err != nil {
		return "", err
	}
	hdrs := jws.NewHeaders()
	_ = hdrs.Set(jws.KeyIDKey, keyID)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}
