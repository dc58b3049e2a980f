// Copyright (c) GatewayLLM Authors.
// Licensed under the MIT License.

/*
Package types holds the gateway's shared wire and domain types.

# Overview

types is the lowest-level shared package: it depends on no internal
package and gives providers, router, gateway, and the rest of the tree
one type contract — normalized requests/responses/stream chunks,
message and tool schemas, the auth context, and the structured error
type. Everything shared across packages lives here to avoid import
cycles.

# Core types

  - Message                        — a conversation message (Role, Content, ToolCalls, Images)
  - CompletionRequest/Response     — the normalized completion request/response
  - StreamChunk                    — one streaming chunk; the final frame carries usage and finish_reason
  - EmbeddingRequest/Response      — the normalized embedding request/response
  - ToolSchema / ToolCall          — tool definitions and invocations
  - AuthContext                    — caller identity (key/user/team/org, budget, model allow-list)
  - Error / ErrorCode              — structured errors with HTTP status and a Retryable flag

# Capabilities

  - Context propagation: WithTraceID / WithTenantID / WithUserID
  - Error tooling: NewError plus the With* builders on *Error, IsRetryable / GetErrorCode
  - Message constructors: NewMessage / NewSystemMessage / NewUserMessage / NewAssistantMessage / NewToolMessage
*/
package types
