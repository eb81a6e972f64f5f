package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeInvalidObjectType is used for an object type outside contact, company and deal
	ErrCodeInvalidObjectType = "ERR_VALIDATION_OBJECT_TYPE"
)

// Authentication error codes
const (
	// ErrCodeUnauthorized is used when authentication is required but missing/invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeForbidden is used when the user lacks permission
	ErrCodeForbidden = "ERR_FORBIDDEN"
	// ErrCodeTokenExpired is used for an expired access token
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeConflict is used for general resource conflicts
	ErrCodeConflict = "ERR_CONFLICT"
)

// Connection error codes
const (
	// ErrCodeConnectionInactive is used when a connection is in error or disabled state
	ErrCodeConnectionInactive = "ERR_CONNECTION_INACTIVE"
	// ErrCodeUnsupportedCRM is used for a crm_type with no registered provider
	ErrCodeUnsupportedCRM = "ERR_UNSUPPORTED_CRM_TYPE"
	// ErrCodeCredentialDecryption is used when stored credentials cannot be opened
	ErrCodeCredentialDecryption = "ERR_CREDENTIAL_DECRYPTION"
	// ErrCodeConfiguration is used for missing gateway configuration
	ErrCodeConfiguration = "ERR_CONFIGURATION"
)

// Provider error codes
const (
	// ErrCodeCRMAuthentication is used when the CRM rejected the stored credentials
	ErrCodeCRMAuthentication = "ERR_CRM_AUTHENTICATION"
	// ErrCodeCRMPermission is used when the CRM credentials lack a scope
	ErrCodeCRMPermission = "ERR_CRM_PERMISSION"
	// ErrCodeCRMProvider is used for other CRM failures
	ErrCodeCRMProvider = "ERR_CRM_PROVIDER"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodePayloadTooLarge is used when the body exceeds the configured limit
	ErrCodePayloadTooLarge = "ERR_PAYLOAD_TOO_LARGE"
)

// Rate limiting error codes
const (
	// ErrCodeRateLimited is used when rate limit is exceeded
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:        http.StatusBadRequest,
	ErrCodeInvalidObjectType: http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,

	ErrCodeNotFound: http.StatusNotFound,
	ErrCodeConflict: http.StatusConflict,

	ErrCodeConnectionInactive:   http.StatusConflict,
	ErrCodeUnsupportedCRM:       http.StatusUnprocessableEntity,
	ErrCodeCredentialDecryption: http.StatusInternalServerError,
	ErrCodeConfiguration:        http.StatusInternalServerError,

	// The CRM's verdict on stored credentials is not the caller's auth failure
	ErrCodeCRMAuthentication: http.StatusBadGateway,
	ErrCodeCRMPermission:     http.StatusBadGateway,
	ErrCodeCRMProvider:       http.StatusBadGateway,

	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodePayloadTooLarge: http.StatusRequestEntityTooLarge,

	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
