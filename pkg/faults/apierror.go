// pkg/faults/apierror.go
package faults

import (
	"encoding/json"
	"fmt"
	"net/http"

	jmes "github.com/jmespath/go-jmespath"
)

// APIError is a non-2xx provider response: HTTP status plus whatever
// error code the body carried (OAuth-style `error` or a vendor
// errorCode field).
type APIError struct {
	Status  int
	Code    string
	Summary string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider returned %d (%s): %s", e.Status, e.Code, e.Summary)
	}
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Summary)
}

// NewAPIError decodes the error code and summary out of an arbitrary
// provider error body. Both OAuth token-endpoint bodies and vendor API
// bodies are handled by searching the common field spellings.
func NewAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return e
	}
	if v, err := jmes.Search("errorCode || error", doc); err == nil {
		if s, ok := v.(string); ok {
			e.Code = s
		}
	}
	if v, err := jmes.Search("errorSummary || error_description || message", doc); err == nil {
		if s, ok := v.(string); ok {
			e.Summary = s
		}
	}
	return e
}

// Known provider error codes. OAuth registry values plus the vendor
// codes observed from the Okta API.
var knownCodes = map[string]struct{ cause, remedy string }{
	"invalid_client": {
		"The identity provider rejected the client credentials",
		"Check the directory's client ID and signing key; the key may have been rotated or revoked in the provider",
	},
	"invalid_grant": {
		"The identity provider rejected the token grant",
		"Re-authorize the directory's service app in the provider",
	},
	"invalid_dpop_proof": {
		"The identity provider rejected the proof-of-possession token",
		"Check that the directory's signing key matches the public key registered with the provider",
	},
	"insufficient_scope": {
		"The directory's service app is missing required API scopes",
		"Grant the application, group and user read scopes to the service app",
	},
	"E0000006": {
		"The directory's API credentials lack permission for this resource",
		"Grant the service app read access to applications, users and groups",
	},
	"E0000007": {
		"A resource listed by the identity provider no longer exists",
		"The provider data changed mid-sync; the next scheduled sync will retry",
	},
	"E0000011": {
		"The identity provider rejected the access token",
		"Check the directory's credentials; the token may have been revoked",
	},
	"E0000047": {
		"The identity provider rate-limited this client",
		"The sync backs off automatically; reduce sync frequency if this persists",
	},
}

func classifyAPI(e *APIError) *Fault {
	if hit, ok := knownCodes[e.Code]; ok {
		return &Fault{Kind: KindProviderAPI, Cause: hit.cause, Remedy: hit.remedy, Err: e}
	}
	// Unknown code: fall back to the status family, keeping the raw
	// code/summary in the cause for diagnosis.
	var cause, remedy string
	switch {
	case e.Status == http.StatusTooManyRequests:
		cause = "The identity provider rate-limited this client"
		remedy = "The sync backs off automatically; reduce sync frequency if this persists"
	case e.Status == http.StatusNotFound:
		cause = "A provider resource was not found"
		remedy = "The provider data changed mid-sync; the next scheduled sync will retry"
	case e.Status >= 500:
		cause = "The identity provider is unavailable"
		remedy = "The next scheduled sync will retry"
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		cause = "The identity provider rejected the directory's credentials"
		remedy = "Check the directory's client ID, key ID and signing key"
	default:
		cause = "The identity provider rejected the request"
		remedy = "The next scheduled sync will retry"
	}
	if e.Code != "" || e.Summary != "" {
		cause = fmt.Sprintf("%s (%s)", cause, e.diagnostic())
	}
	return &Fault{Kind: KindProviderAPI, Cause: cause, Remedy: remedy, Err: e}
}

func (e *APIError) diagnostic() string {
	switch {
	case e.Code != "" && e.Summary != "":
		return e.Code + ": " + e.Summary
	case e.Code != "":
		return e.Code
	default:
		return e.Summary
	}
}
