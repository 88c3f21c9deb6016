// Package signature implements the canonical-parameter HMAC scheme shared
// with the document parsing service.
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

const (
	// FieldSignature carries the computed signature and is never signed itself.
	FieldSignature = "signature"
	// FieldRequestID is a tracing key injected by the vendor's gateway.
	FieldRequestID = "__plasoRequestId__"
)

// Canonical renders params as sorted key=value pairs joined by '&'.
// Excluded keys and nil values are dropped; values are not URL-encoded.
func Canonical(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == FieldSignature || k == FieldRequestID || v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(FormatValue(params[k]))
	}
	return b.String()
}

// Sign computes the upper-case hex HMAC-SHA1 of the canonical form of params.
func Sign(params map[string]any, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(Canonical(params)))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// Verify recomputes the signature of params and compares it with the
// signature field they carry.
func Verify(params map[string]any, secret string) bool {
	got, ok := params[FieldSignature]
	if !ok || got == nil {
		return false
	}
	want := Sign(params, secret)
	return subtle.ConstantTimeCompare([]byte(strings.ToUpper(FormatValue(got))), []byte(want)) == 1
}

// FormatValue renders a parameter value exactly as it enters the canonical form.
func FormatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		// JSON numbers decode as float64; integral values must not grow a ".0" or exponent.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case float32:
		return FormatValue(float64(t))
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
