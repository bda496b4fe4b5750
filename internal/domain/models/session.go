package models

// Credentials are the values typed into the login form. They live only in
// memory for the duration of one submit.
type Credentials struct {
	Email    string
	Password string
}

type Phase string

const (
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseAuthenticating  Phase = "authenticating"
	PhaseAuthFailed      Phase = "auth_failed"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseLinking         Phase = "linking"
	PhaseLinkFailed      Phase = "link_failed"
	PhaseLinked          Phase = "linked"
)

// Status messages shown to the user.
const (
	MessageLoginSuccessful     = "Login successful!"
	MessageInvalidCredentials  = "Invalid email or password"
	MessageLoginErrorPrefix    = "Error during login: "
	MessageRuntimeUnavailable  = "Telegram WebApp is not available"
	MessageNotificationEnabled = "Notification enabled!"
	MessageUpdateFailed        = "Failed to update Telegram User ID"
	MessageUpdateErrorPrefix   = "Error updating Telegram User ID: "
)

// SessionState is what the login page renders.
type SessionState struct {
	LoggedInUser     *string
	Message          string
	ShowConfirmation bool
	Phase            Phase
	Submitting       bool
}

// IsLoggedIn reports whether an authentication call has succeeded.
func (s SessionState) IsLoggedIn() bool {
	return s.LoggedInUser != nil
}

// User returns the logged in email or an empty string.
func (s SessionState) User() string {
	if s.LoggedInUser == nil {
		return ""
	}
	return *s.LoggedInUser
}
