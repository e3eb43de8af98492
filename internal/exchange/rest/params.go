package rest

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"strings"
)

type Param struct {
	Key   string
	Value string
}

// Params keeps request parameters in insertion order. The signature covers the
// exact key=value string, so the order must never be changed after building.
type Params []Param

func (p Params) With(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

// Canonical renders key=value pairs joined by '&' without escaping.
func (p Params) Canonical() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(kv.Key)
		b.WriteByte('=')
		b.WriteString(kv.Value)
	}
	return b.String()
}

// Encode renders the parameters as a form body in the same order as Canonical.
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

// Sign returns the hex encoded HMAC-SHA512 of the canonical parameter string.
func Sign(params Params, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	_, _ = mac.Write([]byte(params.Canonical()))
	return hex.EncodeToString(mac.Sum(nil))
}
