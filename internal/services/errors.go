// Package services defines the business logic of the device bridge:
// reconciliation of upstream order changes, durable broadcasting, print job
// delivery, order writes, and device control.
//
// This file centralizes service-level error values so they can be returned
// consistently by service methods and mapped to HTTP results by handlers.
package services

import "errors"

var (
	// ErrSessionNotFound means no complete upstream operating context exists
	// (no open session, or a dependent record is missing). Orders cannot be
	// created until an operator opens one.
	ErrSessionNotFound = errors.New("no active session")

	// ErrUpstreamUnavailable wraps failures talking to the POS engine.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidTransition is returned when a status change is not an edge of
	// the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrOrderNotFound indicates the device order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrItemNotFound indicates the order item does not exist on that order.
	ErrItemNotFound = errors.New("order item not found")

	// ErrMissingDevice is returned when a print job would be created for an
	// order with no owning device.
	ErrMissingDevice = errors.New("order has no device")

	// ErrPrintEventNotFound indicates the print job does not exist.
	ErrPrintEventNotFound = errors.New("print event not found")

	// ErrPrintJobExhausted is returned for failures reported against a job
	// that already reached its attempt cap.
	ErrPrintJobExhausted = errors.New("print job exhausted")

	// ErrDeviceNotFound indicates the device does not exist or is inactive.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrInvalidInput covers request-level validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrQueueClosed is returned by Publish after the broadcaster stopped.
	ErrQueueClosed = errors.New("broadcast queue closed")

	// ErrIdempotencyInProgress is returned when another request with the same
	// idempotency key is still creating its order.
	ErrIdempotencyInProgress = errors.New("idempotent request in progress")

	// ErrForbidden is returned when a device acts on another device's order.
	ErrForbidden = errors.New("forbidden")
)
