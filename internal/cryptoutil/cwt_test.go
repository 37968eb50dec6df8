package cryptoutil

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

func TestScope(t *testing.T) {
	if got := Scope("my-doc-id", true); got != "doc:my-doc-id:rw" {
		t.Errorf("write scope = %q, want doc:my-doc-id:rw", got)
	}
	if got := Scope("my-doc-id", false); got != "doc:my-doc-id:r" {
		t.Errorf("read scope = %q, want doc:my-doc-id:r", got)
	}
}

func TestSignCWT_RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	claims := CWTClaims{
		Issuer:   "relay-control-plane",
		IssuedAt: time.Unix(1700000000, 0).UTC(),
		Scope:    "doc:my-doc-id:rw",
	}

	token, err := SignCWT(priv, claims)
	if err != nil {
		t.Fatalf("SignCWT: %v", err)
	}

	got, err := VerifyCWT(pub, token)
	if err != nil {
		t.Fatalf("VerifyCWT: %v", err)
	}
	if got.Issuer != claims.Issuer || got.Scope != claims.Scope || !got.IssuedAt.Equal(claims.IssuedAt) {
		t.Errorf("VerifyCWT = %+v, want %+v", got, claims)
	}
}

func TestVerifyCWT_WrongKeyFails(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	otherPub, _, _ := ed25519.GenerateKey(nil)

	token, err := SignCWT(priv, CWTClaims{
		Issuer:   "relay-control-plane",
		IssuedAt: time.Now(),
		Scope:    "doc:x:r",
	})
	if err != nil {
		t.Fatalf("SignCWT: %v", err)
	}

	if _, err := VerifyCWT(otherPub, token); err == nil {
		t.Error("expected verification with a different public key to fail")
	}
}

func TestVerifyCWT_TamperedPayloadFails(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	token, err := SignCWT(priv, CWTClaims{
		Issuer:   "relay-control-plane",
		IssuedAt: time.Now(),
		Scope:    "doc:x:r",
	})
	if err != nil {
		t.Fatalf("SignCWT: %v", err)
	}

	tampered := token[:len(token)-4] + "AAAA"
	if _, err := VerifyCWT(pub, tampered); err == nil {
		t.Error("expected tampered token to fail verification")
	}
}

// TestSignCWT_WireShape decodes the raw CBOR structure directly and
// checks it is byte-exact with the required shape: tag 61 wrapping tag
// 18 wrapping a 4-element array [protected bstr, {}, payload bstr, sig
// bstr], with no kid/exp/aud anywhere.
func TestSignCWT_WireShape(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)

	token, err := SignCWT(priv, CWTClaims{
		Issuer:   "relay-control-plane",
		IssuedAt: time.Unix(1700000000, 0),
		Scope:    "doc:my-doc-id:rw",
	})
	if err != nil {
		t.Fatalf("SignCWT: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}

	var outer cbor.Tag
	if err := cbor.Unmarshal(raw, &outer); err != nil {
		t.Fatalf("Unmarshal outer: %v", err)
	}
	if outer.Number != 61 {
		t.Fatalf("outer tag = %d, want 61", outer.Number)
	}

	inner, ok := outer.Content.(cbor.Tag)
	if !ok || inner.Number != 18 {
		t.Fatalf("inner tag missing or wrong number: %+v", outer.Content)
	}

	arr, ok := inner.Content.([]interface{})
	if !ok || len(arr) != 4 {
		t.Fatalf("COSE_Sign1 array malformed: %+v", inner.Content)
	}

	protectedHeader, ok := arr[0].([]byte)
	if !ok {
		t.Fatalf("protected header not a byte string")
	}
	var headerMap map[int64]int64
	if err := cbor.Unmarshal(protectedHeader, &headerMap); err != nil {
		t.Fatalf("Unmarshal protected header: %v", err)
	}
	if len(headerMap) != 1 || headerMap[1] != -8 {
		t.Errorf("protected header = %+v, want exactly {1: -8}", headerMap)
	}

	unprotected, ok := arr[1].(map[interface{}]interface{})
	if !ok || len(unprotected) != 0 {
		t.Errorf("unprotected header must be empty map, got %+v", arr[1])
	}

	payload, ok := arr[2].([]byte)
	if !ok {
		t.Fatalf("payload not a byte string")
	}
	var claimsMap map[int64]interface{}
	if err := cbor.Unmarshal(payload, &claimsMap); err != nil {
		t.Fatalf("Unmarshal payload: %v", err)
	}
	if len(claimsMap) != 3 {
		t.Errorf("claims map has %d entries, want 3", len(claimsMap))
	}
	if _, hasExp := claimsMap[4]; hasExp {
		t.Error("claims map must not contain exp (4)")
	}
	if _, hasAud := claimsMap[3]; hasAud {
		t.Error("claims map must not contain aud (3)")
	}
	if claimsMap[1] != "relay-control-plane" {
		t.Errorf("issuer claim = %v", claimsMap[1])
	}
	if claimsMap[-80201] != "doc:my-doc-id:rw" {
		t.Errorf("scope claim = %v", claimsMap[-80201])
	}

	sig, ok := arr[3].([]byte)
	if !ok || len(sig) != ed25519.SignatureSize {
		t.Errorf("signature must be a %d-byte string, got %T len %d", ed25519.SignatureSize, arr[3], len(sig))
	}
}
