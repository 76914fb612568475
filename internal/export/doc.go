// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders a conversation transcript to a file format.
//
// # Supported Formats
//
//   - json: the messages exactly as the API returns them
//   - md: Markdown with YAML front matter
//   - html: a standalone page with embedded CSS
//
// # Usage
//
//	exp, err := export.ForFormat("md", export.DefaultOptions())
//	data, err := exp.Export(export.Transcript{Title: "Space Biology AI", Messages: msgs})
package export
