package moderation

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

func clientAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Fingerprint is the anonymous voter identity used for vote deduplication:
// sha256 of the client address and user agent.
func Fingerprint(r *http.Request) string {
	sum := sha256.Sum256([]byte(clientAddress(r) + ":" + r.UserAgent()))
	return hex.EncodeToString(sum[:])
}
