package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
)

// SignatureVerifier authenticates a raw webhook delivery before anything is
// parsed or stored. An empty secret rejects every delivery.
type SignatureVerifier interface {
	Verify(h http.Header, body []byte) bool
}

// FlutterwaveHash compares the verif-hash header with the dashboard secret hash.
type FlutterwaveHash struct{ Secret string }

func (v FlutterwaveHash) Verify(h http.Header, _ []byte) bool {
	got := h.Get("verif-hash")
	if v.Secret == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(v.Secret)) == 1
}

// PaypackHMAC checks X-Paypack-Signature, the base64 HMAC-SHA256 of the body.
type PaypackHMAC struct{ Secret string }

func (v PaypackHMAC) Verify(h http.Header, body []byte) bool {
	got := h.Get("X-Paypack-Signature")
	if v.Secret == "" || got == "" {
		return false
	}
	want := PaypackSignature(v.Secret, body)
	return hmac.Equal([]byte(got), []byte(want))
}

func PaypackSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
