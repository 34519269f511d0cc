package constant

import (
	"time"

	"github.com/go-jose/go-jose/v4"
)

type contextKey int8

const (
	Prog        = "identity-relay"
	Author      = "go-gatekeeper"
	Email       = ""
	Description = "relays cloud project identity metadata to an oauth2 protected api"

	AuthorizationHeader = "Authorization"
	AuthorizationType   = "Bearer"
	AuthTokenHeader     = "auth-token"
	APIKeyHeader        = "x-api-key"
	ContentTypeHeader   = "Content-Type"
	ContentTypeJSON     = "application/json"
	VersionHeader       = "X-Relay-Version"
	RequestIDHeader     = "X-Request-ID"

	HeaderXForwardedFor   = "X-Forwarded-For"
	HeaderXForwardedProto = "X-Forwarded-Proto"
	HeaderXRealIP         = "X-Real-IP"

	// binary mode cloudevents headers, as delivered by eventarc
	HeaderCloudEventType   = "Ce-Type"
	HeaderCloudEventSource = "Ce-Source"
	HeaderCloudEventID     = "Ce-Id"

	HealthURL  = "/health"
	MetricsURL = "/metrics"
	RelayURL   = "/"

	_ contextKey = iota
	ContextScopeName

	EnvPrefix               = "RELAY_"
	EnvTokenURL             = "COGNITO_TOKEN_URL"
	EnvDiscoveryURL         = "COGNITO_DISCOVERY_URL"
	EnvClientID             = "COGNITO_CLIENT_ID"
	EnvClientSecret         = "COGNITO_CLIENT_SECRET_B64"
	EnvScope                = "COGNITO_SCOPE"
	EnvEndpointURL          = "AWS_API_ENDPOINT"
	EnvEndpointPath         = "AWS_API_PATH"
	EnvDefaultPath          = "AWS_API_DEFAULT_PATH"
	EnvAPIKey               = "AWS_API_KEY"
	EnvAWSServiceAccount    = "AWS_SERVICE_ACCOUNT_EMAIL"
	EnvFunctionIdentity     = "FUNCTION_IDENTITY"
	EnvFunctionTarget       = "FUNCTION_TARGET"
	EnvFunctionRegion       = "FUNCTION_REGION"
	EnvKService             = "K_SERVICE"
	EnvGCPProject           = "GCP_PROJECT"
	EnvGoogleCloudProject   = "GOOGLE_CLOUD_PROJECT"
	EnvGCloudProject        = "GCLOUD_PROJECT"
	EnvWorkloadIdentityPool = "WORKLOAD_IDENTITY_POOL_ID"
	EnvWorkloadIdentityProv = "WORKLOAD_IDENTITY_PROVIDER_ID"

	DefaultEndpointPath          = "/dev/run-assessment"
	DefaultServiceAccountPrefix  = "aws-"
	DefaultPayloadVendor         = "GCP"
	DefaultTokenTimeout          = 10 * time.Second
	DefaultDeliveryTimeout       = 10 * time.Second
	DefaultMetadataTimeout       = 5 * time.Second
	DefaultDiscoveryRetryCount   = 3
	DefaultServerGraceTimeout    = 10 * time.Second
	DefaultServerReadTimeout     = 10 * time.Second
	DefaultServerWriteTimeout    = 90 * time.Second
	DefaultServerIdleTimeout     = 120 * time.Second
	DefaultListen                = ":8080"
	TokenPreviewLength           = 20
	MaxErrorBodyLength           = 4096
	MaxRequestBodyLength         = 1 << 20
	WorkloadIdentityPoolLocation = "global"
	WorkloadIdentityActiveState  = "ACTIVE"
	DefaultMetadataAccount       = "default"

	DurationType = "time.Duration"
)

var SignatureAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.HS256, jose.HS512,
}

// diagnostic response headers copied into delivery error details
var DiagnosticResponseHeaders = []string{
	"X-Amzn-Errortype",
	"X-Amzn-Requestid",
	"X-Amz-Apigw-Id",
	"X-Amz-Cf-Id",
	"X-Ratelimit-Limit",
	"X-Ratelimit-Remaining",
	"X-Ratelimit-Reset",
	"Retry-After",
	"Www-Authenticate",
}

// AlternatePaths are tried in this order when the configured endpoint answers 404.
var AlternatePaths = []string{"/api", "/data", "/webhook", "/post", "/submit"}
