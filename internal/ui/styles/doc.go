// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling for the AetherFlow chat TUI.

All colors use Lip Gloss AdaptiveColor so the palette follows the
terminal's light or dark background.

# Color System (colors.go)

	Teal        - Brand color, header, prompt
	Indigo      - Assistant messages
	Sky         - User messages
	Rose        - Errors
	TextMuted   - Timestamps, hints

# Theme (theme.go)

	theme := styles.NewTheme()
	theme.SetSize(width, height)
	header := theme.HeaderTitle.Render("Space Biology AI")
*/
package styles
