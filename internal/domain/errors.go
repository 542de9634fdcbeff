package domain

import "errors"

var (
	// User-correctable input problems (4xx)
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidCurrency    = errors.New("invalid currency")
	ErrInvalidRedirectURL = errors.New("invalid redirect url")

	// Processor unreachable, errored or returned garbage. No assumption
	// about remote side effects may be made by the caller.
	ErrRemoteService = errors.New("payment provider error")

	// Deliberately generic: never reveals which check failed.
	ErrSignatureInvalid = errors.New("webhook signature verification failed")

	// Unknown or foreign session
	ErrNotFound = errors.New("transaction not found")

	// Unique session_id violation; makes lazy creation idempotent
	ErrSessionExists = errors.New("session already recorded")

	// A verified event that cannot be attributed or priced. Must be
	// rejected whole, never silently dropped.
	ErrEventUnprocessable = errors.New("event cannot be processed")
)
