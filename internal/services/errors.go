// Package services holds the session orchestrator that answers one inbound
// message end to end: quota check, prompt building, AI generation, delivery
// and post-delivery bookkeeping.
//
// This file centralizes service-level error values. Ledger and generation
// failures use the sentinels in the domain package; the values here cover
// the transport side. Translation into user-facing texts happens in
// SessionService using the constants in replies.go.
package services

import "errors"

var (
	// ErrDelivery indicates the transport did not accept an outgoing message.
	// Nothing is persisted for a request whose answer was not delivered.
	ErrDelivery = errors.New("delivery failed")

	// ErrPhotoFetch is returned when an inbound photo cannot be downloaded.
	ErrPhotoFetch = errors.New("photo could not be fetched")

	// ErrUnsupported marks inbound events the orchestrator does not handle.
	ErrUnsupported = errors.New("unsupported message")
)
