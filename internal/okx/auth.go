package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// Credentials are the private API key triple.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

func (c Credentials) empty() bool {
	return c.APIKey == "" || c.SecretKey == "" || c.Passphrase == ""
}

// timestamp formats t the way OK-ACCESS-TIMESTAMP expects.
func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Sign computes OK-ACCESS-SIGN: base64(HMAC-SHA256(secret, ts+method+path+body)).
// path includes the query string.
func Sign(secret, ts, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// AuthHeaders returns the signed headers for a private request.
func AuthHeaders(creds Credentials, now time.Time, method, path, body string) map[string]string {
	ts := timestamp(now)
	return map[string]string{
		"OK-ACCESS-KEY":        creds.APIKey,
		"OK-ACCESS-SIGN":       Sign(creds.SecretKey, ts, method, path, body),
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": creds.Passphrase,
	}
}
