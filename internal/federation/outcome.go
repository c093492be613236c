package federation

// Outcome is the terminal state of one authorization callback.
type Outcome string

const (
	OutcomeStateInvalid         Outcome = "STATE_INVALID"
	OutcomeTokenError           Outcome = "TOKEN_ERROR"
	OutcomeIdentityError        Outcome = "IDENTITY_ERROR"
	OutcomeLinked               Outcome = "LINKED"
	OutcomeUnlinkedNeedsConnect Outcome = "UNLINKED_NEEDS_CONNECT"
)

// LinkOutcome is the result of binding a remote identity to a local account.
type LinkOutcome string

const (
	LinkLinked             LinkOutcome = "LINKED"
	LinkInvalidCredentials LinkOutcome = "INVALID_CREDENTIALS"
	LinkAlreadyLinked      LinkOutcome = "ALREADY_LINKED"
)

// PasswordDecision answers whether a password login may stand.
type PasswordDecision string

const (
	PasswordAllow             PasswordDecision = "ALLOW"
	PasswordDenyMustUseRemote PasswordDecision = "DENY_MUST_USE_REMOTE"
)

// SessionDecision answers whether an authenticated local session is still valid.
type SessionDecision string

const (
	SessionValid       SessionDecision = "VALID"
	SessionForceLogout SessionDecision = "FORCE_LOGOUT"
)

// WebhookResult is the outcome of processing one provider notification.
type WebhookResult string

const (
	WebhookOK           WebhookResult = "OK"
	WebhookUnknownUser  WebhookResult = "UNKNOWN_USER"
	WebhookUnrecognized WebhookResult = "UNRECOGNIZED"
)
