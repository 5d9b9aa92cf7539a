package clashapi

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransportKind 是没有拿到 HTTP 响应时的失败类别
type TransportKind int

const (
	KindNetwork TransportKind = iota // anything else
	KindCancelled
	KindTLS
	KindUntrustedCert
	KindTimeout
	KindCannotConnect
	KindNotConnected
)

var kindMessages = map[TransportKind]string{
	KindNetwork:       "network error",
	KindCancelled:     "request was cancelled",
	KindTLS:           "TLS connection failed",
	KindUntrustedCert: "certificate not trusted",
	KindTimeout:       "connection timed out",
	KindCannotConnect: "cannot connect to server",
	KindNotConnected:  "not connected to network",
}

// Message returns the user-facing text of the kind.
func (k TransportKind) Message() string { return kindMessages[k] }

// TransportError wraps a failure that happened before any HTTP response arrived.
type TransportError struct {
	Kind  TransportKind
	Cause error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return e.Kind.Message()
	}
	return fmt.Sprintf("%s: %v", e.Kind.Message(), e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Classify maps a transport error returned by http.Client.Do (or the websocket
// dialer) to its TransportKind. Order matters: a cancelled or timed-out TLS
// handshake is reported as cancelled/timeout, not as a TLS failure.
func Classify(err error) *TransportError {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{Kind: classifyKind(err), Cause: err}
}

func classifyKind(err error) TransportKind {
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if isCertError(err) {
		return KindUntrustedCert
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	if isTLSError(err) {
		return KindTLS
	}
	if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.ENETDOWN) {
		return KindNotConnected
	}
	var dnsErr *net.DNSError
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EHOSTDOWN) || errors.As(err, &dnsErr) {
		return KindCannotConnect
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindCannotConnect
	}
	return KindNetwork
}

func isCertError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		invalid     x509.CertificateInvalidError
		hostname    x509.HostnameError
	)
	return errors.As(err, &verifyErr) || errors.As(err, &unknownAuth) ||
		errors.As(err, &invalid) || errors.As(err, &hostname)
}

func isTLSError(err error) bool {
	var (
		recordErr tls.RecordHeaderError
		alertErr  tls.AlertError
	)
	if errors.As(err, &recordErr) || errors.As(err, &alertErr) {
		return true
	}
	// remote alerts surface as *net.OpError{Op: "remote error"} with a "tls: ..." text
	return strings.Contains(err.Error(), "tls: ")
}
