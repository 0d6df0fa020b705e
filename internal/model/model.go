// Package model defines the types shared by the calendar sync engine, the
// state store, the provider facades and the HTTP layer.
package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSyncAlreadyInProgress is returned when a run is requested for an
	// integration that already has an in_progress sync log.
	ErrSyncAlreadyInProgress = errors.New("sync already running for this integration")

	// ErrInvalid marks caller input that failed validation.
	ErrInvalid = errors.New("invalid input")
)

// Provider discriminates the external calendar backend of an integration.
type Provider string

const (
	ProviderGoogle      Provider = "google"
	ProviderOutlook     Provider = "outlook"
	ProviderAppleCalDAV Provider = "apple_caldav"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderGoogle, ProviderOutlook, ProviderAppleCalDAV}

// ParseProvider validates a provider discriminator.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown provider %q", ErrInvalid, s)
}

// UsesOAuth reports whether the provider authorizes via an OAuth code flow.
// CalDAV integrations are connected with an app-specific password instead.
func (p Provider) UsesOAuth() bool {
	return p == ProviderGoogle || p == ProviderOutlook
}

// Direction is the data flow of a sync run.
type Direction string

const (
	DirectionPush          Direction = "push"
	DirectionPull          Direction = "pull"
	DirectionBidirectional Direction = "bidirectional"
)

// ParseDirection validates a direction. An empty string means bidirectional.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "":
		return DirectionBidirectional, nil
	case DirectionPush, DirectionPull, DirectionBidirectional:
		return Direction(s), nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrInvalid, s)
}

// Pushes reports whether the direction includes the push phase.
func (d Direction) Pushes() bool {
	return d == DirectionPush || d == DirectionBidirectional
}

// Pulls reports whether the direction includes the pull phase.
func (d Direction) Pulls() bool {
	return d == DirectionPull || d == DirectionBidirectional
}

// RunType records what triggered a sync run.
type RunType string

const (
	RunManual    RunType = "manual"
	RunScheduled RunType = "scheduled"
)
