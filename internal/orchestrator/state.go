// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import "fmt"

// State is a step of one exchange.
type State int

const (
	StateIdle State = iota
	StatePersistingUserMsg
	StateRetrievingContext
	StateStreaming
	StatePersistingAnswer
	StateDone
	StateError
)

var stateNames = [...]string{
	StateIdle:              "IDLE",
	StatePersistingUserMsg: "PERSISTING_USER_MSG",
	StateRetrievingContext: "RETRIEVING_CONTEXT",
	StateStreaming:         "STREAMING",
	StatePersistingAnswer:  "PERSISTING_ANSWER",
	StateDone:              "DONE",
	StateError:             "ERROR",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// next lists the legal successors of each state besides ERROR.
var next = map[State]State{
	StateIdle:              StatePersistingUserMsg,
	StatePersistingUserMsg: StateRetrievingContext,
	StateRetrievingContext: StateStreaming,
	StateStreaming:         StatePersistingAnswer,
	StatePersistingAnswer:  StateDone,
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	return to == StateError || next[from] == to
}
