// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"github.com/OscarGarciaF/AetherFlow/internal/completion"
	"github.com/OscarGarciaF/AetherFlow/internal/config"
	"github.com/OscarGarciaF/AetherFlow/internal/storage"
)

// SystemInstruction returns the system turn for the retrieved context.
func SystemInstruction(s Settings, retrieved string) string {
	if retrieved == "" {
		return s.NoContext
	}
	return s.ContextPreamble + retrieved
}

// Window returns the most recent max messages, or all of them when max
// is 0.
func Window(history []storage.Message, max int) []storage.Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}

// BuildTurns assembles the provider request: the system turn, then the
// windowed history in chronological order.
func BuildTurns(s Settings, retrieved string, history []storage.Message) []completion.Turn {
	history = Window(history, s.MaxHistory)

	turns := make([]completion.Turn, 0, len(history)+1)
	turns = append(turns, completion.Turn{
		Role:    completion.RoleSystem,
		Content: SystemInstruction(s, retrieved),
	})
	for _, m := range history {
		role := completion.RoleUser
		if m.Role == storage.RoleAssistant {
			role = completion.RoleAssistant
		}
		turns = append(turns, completion.Turn{Role: role, Content: m.Content})
	}
	return turns
}

// DefaultSettings mirrors config.Default.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default())
}

// SettingsFromConfig extracts the per-exchange settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		ContextPreamble: cfg.Prompt.ContextPreamble,
		NoContext:       cfg.Prompt.NoContext,
		MaxHistory:      cfg.History.MaxMessages,
		TopK:            cfg.Retrieval.SimilarityTopK,
		Timeout:         cfg.Server.StreamTimeout(),
	}
}
