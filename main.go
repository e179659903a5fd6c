// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("toolsync - Offline-First Local/Remote Sync Layer")
	fmt.Println("================================================")
	fmt.Println()
	fmt.Println("toolsync lets a client application read and write against a durable")
	fmt.Println("SQLite cache while offline, and reconciles that cache with the")
	fmt.Println("authoritative HTTP service when connectivity returns.")
	fmt.Println()
	fmt.Println("Components (package offsync):")
	fmt.Println()
	fmt.Println("  Store          durable record cache with schema versioning and wipe/migrate")
	fmt.Println("  Queue          durable, ordered log of pending write intents")
	fmt.Println("  Executor       decides execute-now vs queue-and-apply-optimistically")
	fmt.Println("  Engine         drains the queue in order against the remote service")
	fmt.Println("  Scheduler      periodic connectivity-gated drains")
	fmt.Println("  CachePersister restores the read cache across restarts for instant first paint")
}
