// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/OscarGarciaF/AetherFlow/internal/storage"
)

// JSONExporter writes the messages in the GET /messages shape so an export
// can be diffed against the live API. An empty transcript is "[]".
type JSONExporter struct{}

func (e *JSONExporter) Export(t Transcript) ([]byte, error) {
	msgs := t.Messages
	if msgs == nil {
		msgs = []storage.Message{}
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (e *JSONExporter) FileExtension() string { return ".json" }

func (e *JSONExporter) MimeType() string { return "application/json" }
