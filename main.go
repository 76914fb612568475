// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// AetherFlow - streaming retrieval-augmented chat server and terminal client.
package main

import (
	"os"

	"github.com/OscarGarciaF/AetherFlow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
