// Copyright (c) GatewayLLM Authors.
// Licensed under the MIT License.

/*
Package config provides the gateway's configuration management.

# Overview

config owns the full configuration lifecycle: multi-source loading,
runtime hot reload, change auditing, and an HTTP admin API. Sources
merge in "defaults -> YAML file -> environment variables" precedence.

# Core types

  - Config: the top-level aggregate covering Server, Auth, Router,
    Redis, Database, Pricing, Budget, Log, Telemetry
  - Loader: builder-style loader for file path, env-var prefix, and
    custom validators
  - HotReloadManager: file watching, field-level updates, change
    callbacks, and a change log; there is no rollback or version history
  - FileWatcher: poll-and-debounce file change detection driving
    reloads
  - ConfigAPIHandler: HTTP endpoints for config query, update, reload
    trigger, and change history

# Capabilities

  - Multi-source loading: YAML file, env vars (GATEWAYLLM_ prefix), defaults
  - Hot reload: automatic on file change plus manual via API, with
    field-level updates
  - Safety: sensitive-field redaction (SanitizedConfig), admin auth by
    API key from the X-API-Key header or the api_key query parameter, CORS
  - Change audit: a change log capped at the most recent 1000 entries
    on reload; no version tracking or rollback
  - Validation: built-in basic checks plus custom validators (WithValidator)

# Example

	cfg, err := config.NewLoader().
		WithConfigPath("config.yaml").
		WithEnvPrefix("GATEWAYLLM").
		Load()
*/
package config
