// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package completion streams chat completions from an Azure OpenAI
// deployment.
//
// Open sends one streaming request and returns a pull-based Stream:
//
//	stream, err := client.Open(ctx, turns)
//	if err != nil {
//		return err // provider could not be reached or refused the request
//	}
//	defer stream.Close()
//	for {
//		delta, err := stream.Recv()
//		if err == io.EOF {
//			break // normal completion
//		}
//		if err != nil {
//			return err // transport or provider failure mid-stream
//		}
//		fmt.Print(delta)
//	}
//
// Deltas returned by Recv are never empty. Requests are not retried.
package completion
