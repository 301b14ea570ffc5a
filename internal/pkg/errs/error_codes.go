/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON is malformed or has unknown fields.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrPowRequired indicates that the request needs a valid proof-of-work token.
	ErrPowRequired = 1008

	// ErrPowInvalid indicates that a proof-of-work answer was wrong or its challenge expired.
	ErrPowInvalid = 1009
)

// 2xxx: Presence, Matchmaking and Relay Errors
const (
	// ErrInvalidTransition indicates a presence state change not allowed by the state machine.
	ErrInvalidTransition = 2101

	// ErrDuplicateIdentity indicates that a caller-supplied user ID is already online.
	ErrDuplicateIdentity = 2102

	// ErrNoPartnerAvailable indicates that the matchmaker ran out of retries. The user keeps searching.
	ErrNoPartnerAvailable = 2103

	// ErrAlreadyPaired indicates that a user already belongs to an active session.
	ErrAlreadyPaired = 2104

	// ErrNotParticipant indicates that the caller is not one of the session's two participants.
	ErrNotParticipant = 2201

	// ErrSessionInactive indicates that the session has already been closed.
	ErrSessionInactive = 2202

	// ErrEmptyMessage indicates that the message text is blank after trimming.
	ErrEmptyMessage = 2203

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2204

	// ErrNotFound indicates that the referenced user or session does not exist.
	ErrNotFound = 2301
)

// 3xxx: Identity Errors
const (
	// ErrUnauthorized indicates a missing or invalid session identity token.
	ErrUnauthorized = 3001

	// ErrSessionKicked indicates that the connection was replaced by a newer one for the same user.
	ErrSessionKicked = 3004
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
