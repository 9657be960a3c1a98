package domain

import "errors"

var (
	// ErrSubscriptionFailed is returned when the push subscription cannot be established
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrItemNotFound is returned when a tracked item is not in the ledger store
	ErrItemNotFound = errors.New("item not found")

	// ErrMalformedFragment is returned when a fragment fails boundary validation
	ErrMalformedFragment = errors.New("malformed fragment")

	// ErrSessionClosed is returned when an operation is attempted on a torn-down session
	ErrSessionClosed = errors.New("session closed")
)
