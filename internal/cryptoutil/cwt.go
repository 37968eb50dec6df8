package cryptoutil

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	tagCWT       = 61
	tagCOSESign1 = 18
	algEdDSA     = -8

	claimIssuer = 1
	claimExp    = 4
	claimAud    = 3
	claimIat    = 6
	claimScope  = -80201
)

var (
	ErrMalformedCWT  = errors.New("malformed CWT")
	ErrSignatureMismatch = errors.New("CWT signature verification failed")
)

var canonicalEncMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// CWTClaims holds the exactly-three claims the downstream relay accepts.
type CWTClaims struct {
	Issuer   string
	IssuedAt time.Time
	Scope    string
}

// Scope builds the "doc:<doc_id>:{rw|r}" scope grammar for a capability.
func Scope(docID string, write bool) string {
	if write {
		return fmt.Sprintf("doc:%s:rw", docID)
	}
	return fmt.Sprintf("doc:%s:r", docID)
}

// SignCWT mints a base64url-without-padding-encoded CWT/COSE_Sign1 token.
func SignCWT(priv ed25519.PrivateKey, claims CWTClaims) (string, error) {
	protectedHeader, err := canonicalEncMode.Marshal(map[int]int{1: algEdDSA})
	if err != nil {
		return "", err
	}

	payload, err := canonicalEncMode.Marshal(map[int]interface{}{
		claimIssuer: claims.Issuer,
		claimIat:    claims.IssuedAt.Unix(),
		claimScope:  claims.Scope,
	})
	if err != nil {
		return "", err
	}

	sigStructure, err := canonicalEncMode.Marshal([]interface{}{
		"Signature1",
		protectedHeader,
		[]byte{},
		payload,
	})
	if err != nil {
		return "", err
	}

	signature := ed25519.Sign(priv, sigStructure)

	coseSign1 := cbor.Tag{
		Number: tagCOSESign1,
		Content: []interface{}{
			protectedHeader,
			map[int]int{},
			payload,
			signature,
		},
	}

	outer := cbor.Tag{
		Number:  tagCWT,
		Content: coseSign1,
	}

	encoded, err := canonicalEncMode.Marshal(outer)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(encoded), nil
}

// VerifyCWT decodes and verifies a token minted by SignCWT, rejecting any
// shape deviation (extra header entries, exp/aud claims, bad signature).
func VerifyCWT(pub ed25519.PublicKey, token string) (CWTClaims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return CWTClaims{}, fmt.Errorf("%w: %v", ErrMalformedCWT, err)
	}

	var outer cbor.Tag
	if err := cbor.Unmarshal(raw, &outer); err != nil {
		return CWTClaims{}, fmt.Errorf("%w: %v", ErrMalformedCWT, err)
	}
	if outer.Number != tagCWT {
		return CWTClaims{}, fmt.Errorf("%w: expected CWT tag %d, got %d", ErrMalformedCWT, tagCWT, outer.Number)
	}

	inner, ok := outer.Content.(cbor.Tag)
	if !ok || inner.Number != tagCOSESign1 {
		return CWTClaims{}, fmt.Errorf("%w: expected COSE_Sign1 tag %d", ErrMalformedCWT, tagCOSESign1)
	}

	arr, ok := inner.Content.([]interface{})
	if !ok || len(arr) != 4 {
		return CWTClaims{}, fmt.Errorf("%w: COSE_Sign1 must be a 4-element array", ErrMalformedCWT)
	}

	protectedHeader, ok := arr[0].([]byte)
	if !ok {
		return CWTClaims{}, fmt.Errorf("%w: protected header must be a byte string", ErrMalformedCWT)
	}
	unprotected, ok := arr[1].(map[interface{}]interface{})
	if !ok || len(unprotected) != 0 {
		return CWTClaims{}, fmt.Errorf("%w: unprotected header must be empty", ErrMalformedCWT)
	}
	payload, ok := arr[2].([]byte)
	if !ok {
		return CWTClaims{}, fmt.Errorf("%w: payload must be a byte string", ErrMalformedCWT)
	}
	signature, ok := arr[3].([]byte)
	if !ok {
		return CWTClaims{}, fmt.Errorf("%w: signature must be a byte string", ErrMalformedCWT)
	}

	var headerMap map[int64]int64
	if err := cbor.Unmarshal(protectedHeader, &headerMap); err != nil {
		return CWTClaims{}, fmt.Errorf("%w: %v", ErrMalformedCWT, err)
	}
	if len(headerMap) != 1 {
		return CWTClaims{}, fmt.Errorf("%w: protected header must have exactly one entry", ErrMalformedCWT)
	}
	if alg, ok := headerMap[1]; !ok || alg != algEdDSA {
		return CWTClaims{}, fmt.Errorf("%w: protected header alg must be EdDSA (-8)", ErrMalformedCWT)
	}

	sigStructure, err := canonicalEncMode.Marshal([]interface{}{
		"Signature1",
		protectedHeader,
		[]byte{},
		payload,
	})
	if err != nil {
		return CWTClaims{}, err
	}
	if !ed25519.Verify(pub, sigStructure, signature) {
		return CWTClaims{}, ErrSignatureMismatch
	}

	var claimsMap map[int64]interface{}
	if err := cbor.Unmarshal(payload, &claimsMap); err != nil {
		return CWTClaims{}, fmt.Errorf("%w: %v", ErrMalformedCWT, err)
	}
	if len(claimsMap) != 3 {
		return CWTClaims{}, fmt.Errorf("%w: payload must have exactly three claims", ErrMalformedCWT)
	}
	if _, hasExp := claimsMap[claimExp]; hasExp {
		return CWTClaims{}, fmt.Errorf("%w: payload must not contain exp", ErrMalformedCWT)
	}
	if _, hasAud := claimsMap[claimAud]; hasAud {
		return CWTClaims{}, fmt.Errorf("%w: payload must not contain aud", ErrMalformedCWT)
	}

	issuer, ok := claimsMap[claimIssuer].(string)
	if !ok {
		return CWTClaims{}, fmt.Errorf("%w: issuer claim must be a string", ErrMalformedCWT)
	}
	scope, ok := claimsMap[claimScope].(string)
	if !ok {
		return CWTClaims{}, fmt.Errorf("%w: scope claim must be a string", ErrMalformedCWT)
	}

	var iat int64
	switch v := claimsMap[claimIat].(type) {
	case int64:
		iat = v
	case uint64:
		iat = int64(v)
	default:
		return CWTClaims{}, fmt.Errorf("%w: iat claim must be an integer", ErrMalformedCWT)
	}

	return CWTClaims{
		Issuer:   issuer,
		IssuedAt: time.Unix(iat, 0).UTC(),
		Scope:    scope,
	}, nil
}
