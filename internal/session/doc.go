// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the client side of a conversation.
//
// A Controller mirrors the server's persisted history, accumulates the
// answer being streamed, and refuses a second send while one is in flight.
// Views render Snapshots and never touch the controller's state directly.
//
// # Usage
//
//	ctrl := session.NewController(client.New(url))
//	ctrl.OnChange(func(s session.Snapshot) { program.Send(s) })
//	if err := ctrl.Load(ctx); err != nil {
//	    return err
//	}
//	err := ctrl.Send(ctx, "What is microgravity?")
package session
