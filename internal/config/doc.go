// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates AetherFlow configuration.
//
// Configuration is resolved in layers:
//   - Built-in defaults (Default)
//   - ~/.aetherflow/config.toml, or ~/.aetherflow/config.json, or --config
//   - Environment overrides (ApplyEnvOverrides)
//
// The server keeps the active configuration in a Holder; Watch reloads the
// file on change and swaps the new value in atomically.
//
// # Environment
//
// Credentials use the same names as the hosted deployment:
//
//	LLAMA_CLOUD_API_KEY, LLAMA_INDEX_NAME, LLAMA_PROJECT_NAME,
//	LLAMA_PROJECT_ID, LLAMA_ORGANIZATION_ID, LLAMA_SIMILARITY_TOP_K,
//	AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT_NAME
//
// Server and client settings use the AETHERFLOW_ prefix.
package config
