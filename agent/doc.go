// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent groups the conversation orchestration core.

# Overview

A conversation lives in one chat channel and moves through planning,
active, paused and a terminal state (completed or stopped). Humans post
messages, AI agents reply, and a moderator keeps the discussion on topic
and within its message, cost and time limits.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                       orchestrator                          │
	│   (HandleIncoming, control signals, sweep, doc debounce)   │
	├──────────────┬──────────────┬──────────────┬───────────────┤
	│  moderation  │   dispatch   │   docstore   │  persistence  │
	│ planner and  │ reply-target │ detail log   │ memory / file │
	│ moderator    │ selection,   │ and context  │ / redis       │
	│              │ delivery     │ compression  │ snapshots     │
	├──────────────┴──────────────┴──────────────┴───────────────┤
	│                       conversation                          │
	│   (per-conversation locked store, context builder, pruning) │
	└─────────────────────────────────────────────────────────────┘

# Subpackages

  - conversation: the authoritative store. Mutations run under a
    per-conversation lock through Txn and are snapshotted after commit.
  - dispatch: picks which agents reply, calls them concurrently under
    rate limits and the resilience executor, and delivers the replies.
  - moderation: the planner runs the clarifying-question phase and the
    moderator checks drift, limits and participation balance.
  - docstore: keeps the detailed record and the compressed context
    that replaces early history once the compression threshold is hit.
  - persistence: snapshot backends and startup rehydration.
  - orchestrator: wires the above into one entry point.

Agents themselves live in package llm.
*/
package agent
