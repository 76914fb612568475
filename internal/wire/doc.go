// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package wire frames chat output as a Server-Sent Events stream and
// decodes it back.
//
// # Frames
//
//	data: {"text":"Hel"}\n\n     one text delta
//	data: {"error":"boom"}\n\n   one failure, no sentinel follows
//	data: [DONE]\n\n             end of a successful stream
//
// # Decoding
//
// Decode is a pure fold over network chunks: it buffers the incomplete
// trailing line, parses complete lines only and tolerates \r\n. Lines that
// are not data lines, and data lines whose payload is not JSON, are
// skipped. After the sentinel all further input is ignored.
//
//	var st wire.DecoderState
//	for chunk := range chunks {
//		var events []wire.Event
//		st, events = wire.Decode(st, chunk)
//		...
//	}
package wire
