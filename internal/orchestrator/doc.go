// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator runs one streaming chat exchange end to end.
//
// An exchange moves through a fixed sequence of states:
//
//	IDLE -> PERSISTING_USER_MSG -> RETRIEVING_CONTEXT -> STREAMING
//	     -> PERSISTING_ANSWER -> DONE
//
// with ERROR reachable from every non-terminal state. Failures before
// STREAMING are returned as a *Fault for the caller to report as a plain
// HTTP error; failures after STREAMING has started are reported through
// the Sink as a single error frame. Retrieval failures are logged and the
// exchange continues without context.
//
// When the client goes away (write error or cancelled context) the
// exchange stops reading from the provider and persists nothing further.
package orchestrator
