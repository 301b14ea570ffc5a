/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format."},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data."},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request size is too large."},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrPowRequired:           {Code: ErrPowRequired, Message: "Please verify you are human.", Status: http.StatusForbidden},
	ErrPowInvalid:            {Code: ErrPowInvalid, Message: "Verification failed. Please try again."},

	// 2xxx: Presence, Matchmaking and Relay Errors
	ErrInvalidTransition:     {Code: ErrInvalidTransition, Message: "That action is not possible right now."},
	ErrDuplicateIdentity:     {Code: ErrDuplicateIdentity, Message: "This identity is already online."},
	ErrNoPartnerAvailable:    {Code: ErrNoPartnerAvailable, Message: "No partner available yet. Still searching."},
	ErrAlreadyPaired:         {Code: ErrAlreadyPaired, Message: "You are already chatting with someone."},
	ErrNotParticipant:        {Code: ErrNotParticipant, Message: "You are not part of this chat."},
	ErrSessionInactive:       {Code: ErrSessionInactive, Message: "This chat has ended."},
	ErrEmptyMessage:          {Code: ErrEmptyMessage, Message: "Message cannot be empty."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrNotFound:              {Code: ErrNotFound, Message: "Not found.", Status: http.StatusNotFound},

	// 3xxx: Identity Errors
	ErrUnauthorized:  {Code: ErrUnauthorized, Message: "Please join to continue.", Status: http.StatusUnauthorized},
	ErrSessionKicked: {Code: ErrSessionKicked, Message: "You were connected from another tab."},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
