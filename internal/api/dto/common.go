package dto

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`

	// Onboarding is set on NoAccessibleOrganization so the client can route
	// the principal into the onboarding flow.
	Onboarding bool `json:"onboarding,omitempty"`

	// Retryable marks transient directory failures.
	Retryable bool `json:"retryable,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}
