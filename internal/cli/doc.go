// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package cli implements the aetherflow command line.

	aetherflow serve              run the HTTP API
	aetherflow chat [--plain]     chat against a running server
	aetherflow history [id]       print the conversation
	aetherflow clear              delete the conversation
	aetherflow status             print the server health report
	aetherflow export [-f md]     save the conversation as md, json or html
	aetherflow config init|show|path
	aetherflow version

Global flags select the config file (--config), the server URL used by
the client commands (--server) and the log level and format. The chat
command only logs when log.path is set, since stderr belongs to the
terminal view.
*/
package cli
