// Package faults classifies sync failures into operator-readable
// causes. Every fatal error in a pass is reduced to a Fault before it
// is written onto the directory record.
package faults

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"
)

type Kind string

const (
	KindTransport     Kind = "transport"
	KindProviderAPI   Kind = "provider_api"
	KindValidation    Kind = "validation"
	KindDeletionGuard Kind = "deletion_guard"
	KindCommit        Kind = "commit"
)

// Fault is a classified failure: a human-readable cause, an optional
// remediation hint, and the underlying error for diagnosis.
type Fault struct {
	Kind   Kind
	Cause  string
	Remedy string
	Err    error
}

func (f *Fault) Error() string {
	msg := f.Cause
	if f.Remedy != "" {
		msg += ". " + f.Remedy
	}
	return msg
}

func (f *Fault) Unwrap() error { return f.Err }

// New builds a Fault directly; used where the caller already knows the
// classification (deletion guard, commit step).
func New(kind Kind, cause, remedy string, err error) *Fault {
	return &Fault{Kind: kind, Cause: cause, Remedy: remedy, Err: err}
}

// ValidationError marks a remote record that fails a domain invariant.
// It carries the offending provider identifier so the operator can find
// the record in the IdP console.
type ValidationError struct {
	Resource string // "user", "group"
	IdpID    string
	Field    string
	Detail   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Resource, e.IdpID, e.Detail)
}

// MissingEmail is the fatal validation error for a user record without
// an email. The local actor model joins on email, so the pass cannot
// proceed.
func MissingEmail(idpID string) *ValidationError {
	return &ValidationError{
		Resource: "user",
		IdpID:    idpID,
		Field:    "email",
		Detail:   "has no email address; every assigned user must have one",
	}
}

// Classify reduces any error from a sync pass to a Fault. Faults pass
// through unchanged so layers may pre-classify.
func Classify(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &Fault{Kind: KindValidation, Cause: ve.Error(), Remedy: "Fix the record in the identity provider and re-run the sync", Err: err}
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return classifyAPI(ae)
	}
	if cause, remedy, ok := classifyTransport(err); ok {
		return &Fault{Kind: KindTransport, Cause: cause, Remedy: remedy, Err: err}
	}
	return &Fault{Kind: KindTransport, Cause: "Could not reach the identity provider: " + err.Error(), Remedy: "The next scheduled sync will retry", Err: err}
}

func classifyTransport(err error) (cause, remedy string, ok bool) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("DNS lookup failed for %q", dnsErr.Name),
			"Check the directory's domain setting", true
	}
	var certErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return "The identity provider presented a certificate signed by an unknown authority",
			"Check for TLS interception between this host and the provider", true
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return "The identity provider's TLS certificate does not match its hostname",
			"Check the directory's domain setting", true
	}
	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return "The identity provider did not speak TLS on the expected port",
			"Check the directory's domain setting", true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "The identity provider refused the connection",
			"The provider may be down; the next scheduled sync will retry", true
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "The connection to the identity provider was closed unexpectedly",
			"The next scheduled sync will retry", true
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return "The identity provider's network is unreachable from this host",
			"Check outbound network connectivity", true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The request to the identity provider timed out",
			"The provider may be slow or unreachable; the next scheduled sync will retry", true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "The request to the identity provider timed out",
			"The provider may be slow or unreachable; the next scheduled sync will retry", true
	}
	return "", "", false
}
