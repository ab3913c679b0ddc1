package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Error codes recorded on failed checks. Transport failures keep their
// conventional errno names so stored history stays greppable.
const (
	CodeTimeout          = "ETIMEDOUT"
	CodeRedirectLoop     = "REDIRECT_LOOP"
	CodeTooManyRedirects = "TOO_MANY_REDIRECTS"
	CodeConnRefused      = "ECONNREFUSED"
	CodeConnReset        = "ECONNRESET"
	CodeDNSNotFound      = "ENOTFOUND"
	CodeDNSTemporary     = "EAI_AGAIN"
	CodeTLS              = "TLS_ERROR"
	CodeRequest          = "EREQUEST"
)

func classify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return CodeDNSNotFound
		}
		return CodeDNSTemporary
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return CodeConnRefused
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return CodeConnReset
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return CodeTLS
	}
	msg := err.Error()
	if strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:") {
		return CodeTLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}

	return CodeRequest
}
