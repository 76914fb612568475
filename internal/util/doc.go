// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the server and the clients.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file replacement with fsync + rename
//   - TruncateWidth / StringWidth: display-width aware truncation
//   - Fingerprint: log-safe identifier for secrets
//
// # Usage
//
//	err := util.AtomicWriteFile(path, data, 0600)
//	line := util.TruncateWidth(msg.Content, 60)
//	logger.Info("AZURE_CONFIGURED", zap.String("key", util.Fingerprint(apiKey)))
package util
