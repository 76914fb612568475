// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// FAULT TAXONOMY
// =============================================================================

// FaultKind classifies why an exchange failed.
type FaultKind int

const (
	// ClientFault is an invalid request. Nothing was persisted.
	ClientFault FaultKind = iota
	// ConfigurationFault is a missing provider credential.
	ConfigurationFault
	// UpstreamRetrievalFault is a failed context lookup. It never ends an
	// exchange; it is only logged.
	UpstreamRetrievalFault
	// UpstreamCompletionFault is a provider failure.
	UpstreamCompletionFault
	// PersistenceFault is a message store failure.
	PersistenceFault
	// Canceled means the client went away.
	Canceled
	// Timeout means the exchange exceeded its deadline.
	Timeout
)

// StatusClientClosedRequest is reported for exchanges the client abandoned.
const StatusClientClosedRequest = 499

// Sentinels matched by errors.Is against a *Fault of the same kind.
var (
	ErrClientFault             = errors.New("invalid request")
	ErrConfigurationFault      = errors.New("API credentials not configured")
	ErrUpstreamRetrievalFault  = errors.New("context retrieval failed")
	ErrUpstreamCompletionFault = errors.New("language model request failed")
	ErrPersistenceFault        = errors.New("message store failed")
	ErrCanceled                = errors.New("exchange canceled")
	ErrTimeout                 = errors.New("exchange timed out")
)

var kindInfo = map[FaultKind]struct {
	name     string
	sentinel error
	status   int
}{
	ClientFault:             {"client_fault", ErrClientFault, http.StatusBadRequest},
	ConfigurationFault:      {"configuration_fault", ErrConfigurationFault, http.StatusInternalServerError},
	UpstreamRetrievalFault:  {"upstream_retrieval_fault", ErrUpstreamRetrievalFault, http.StatusBadGateway},
	UpstreamCompletionFault: {"upstream_completion_fault", ErrUpstreamCompletionFault, http.StatusBadGateway},
	PersistenceFault:        {"persistence_fault", ErrPersistenceFault, http.StatusInternalServerError},
	Canceled:                {"canceled", ErrCanceled, StatusClientClosedRequest},
	Timeout:                 {"timeout", ErrTimeout, http.StatusGatewayTimeout},
}

func (k FaultKind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

// Sentinel returns the errors.Is target for k.
func (k FaultKind) Sentinel() error {
	return kindInfo[k].sentinel
}

// HTTPStatus is the response status for a fault reported before streaming.
func (k FaultKind) HTTPStatus() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// =============================================================================
// FAULT
// =============================================================================

// Fault is the error returned by Run for every failed exchange.
type Fault struct {
	Kind FaultKind
	// State is where the exchange was when it failed.
	State State
	// Streamed is true when the fault was reported in-stream through the
	// Sink (or, for Canceled, when nothing can be reported). A caller must
	// not write an HTTP error for a streamed fault.
	Streamed bool
	// Detail is the client-facing message. Empty uses the kind's sentinel.
	Detail string
	Err    error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s in %s: %v", f.Kind, f.State, f.Err)
	}
	return fmt.Sprintf("%s in %s", f.Kind, f.State)
}

func (f *Fault) Unwrap() error { return f.Err }

// Is matches the kind's sentinel.
func (f *Fault) Is(target error) bool {
	return target == f.Kind.Sentinel()
}

// HTTPStatus is the status to report when the fault was not streamed.
func (f *Fault) HTTPStatus() int {
	return f.Kind.HTTPStatus()
}

// Message is the text shown to the client.
func (f *Fault) Message() string {
	if f.Detail != "" {
		return f.Detail
	}
	return f.Kind.Sentinel().Error()
}

// AsFault extracts a *Fault from err.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
