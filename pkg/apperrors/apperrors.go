package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAssertionFailed      = errors.New("assertion failed")
	ErrMissingConfiguration = errors.New("missing required configuration")
	ErrTokenExchange        = errors.New("failed to obtain access token")
	ErrMissingAccessToken   = errors.New("token response does not contain an access_token")
	ErrMissingCredentials   = errors.New("no access token available, refusing to deliver without credentials")
	ErrDeliveryFailed       = errors.New("delivery to target endpoint failed")
	ErrTokenRefreshFailed   = errors.New("failed to refresh the access token after 401")
	ErrDiscoveryFailed      = errors.New("failed to resolve token endpoint from discovery url")
	ErrParseAccessToken     = errors.New("failed to parse access token")
	ErrParseClaims          = errors.New("failed to parse access token claims")

	ErrMissingProjectID         = errors.New("unable to determine the project id")
	ErrMetadataUnavailable      = errors.New("metadata server is not available")
	ErrIAMLookupDisabled        = errors.New("iam lookup is disabled")
	ErrNoMatchingServiceAccount = errors.New("no service account matches the configured prefix")
	ErrNoWorkloadIdentityPool   = errors.New("no active workload identity pool found")
	ErrNoWorkloadProvider       = errors.New("no active workload identity provider found")

	ErrStartMainHTTP = errors.New("failed to start main http service")
	ErrMarshalResult = errors.New("problem marshalling relay response")

	// config errors.

	ErrMissingListenInterface = errors.New("you have not specified the listening interface")
	ErrMissingEndpointURL     = errors.New("you have not specified the target endpoint url")
	ErrInvalidEndpointURL     = errors.New("the target endpoint url is invalid, it must be an absolute http(s) url")
	ErrInvalidTokenURL        = errors.New("the token url is invalid, it must be an absolute http(s) url")
	ErrInvalidDiscoveryURL    = errors.New("the discovery url is invalid, it must be an absolute http(s) url")
	ErrInvalidTimeout         = errors.New("timeouts must be greater than zero")
	ErrInvalidOriginWithCreds = errors.New("origin cannot be set to * together with AllowedCredentials true")
)

// ConfigurationError reports credential fields absent at the time a token is requested.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingConfiguration.Error(), strings.Join(e.Missing, ", "))
}

func (e *ConfigurationError) Unwrap() error {
	return ErrMissingConfiguration
}

// TokenExchangeError is returned when the token endpoint is unreachable or
// answered without a usable access token.
type TokenExchangeError struct {
	Message     string `json:"message"`
	StatusCode  int    `json:"status,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Description string `json:"description,omitempty"`
	Body        string `json:"body,omitempty"`
	Err         error  `json:"-"`
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTokenExchange.Error(), e.Message)
}

func (e *TokenExchangeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTokenExchange}
	}
	return []error{ErrTokenExchange, e.Err}
}
