// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerSkipsTicksWhileOffline(t *testing.T) {
	remote := newFakeRemote()
	engine, _, queue := newTestEngine(t, remote, 0)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, MutationCreate, "tools", "t1", rawJSON(t, map[string]any{"id": "t1"}), "")
	require.NoError(t, err)

	sched := NewScheduler(engine, NewSignal(false), nil)
	stop := sched.Start(ctx, 20*time.Millisecond, nil)
	defer stop()

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, remote.callCount(), "offline ticks never reach the remote collaborator")

	pending, err := queue.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestSchedulerDrainsWhenOnline(t *testing.T) {
	remote := newFakeRemote()
	engine, _, queue := newTestEngine(t, remote, 0)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, MutationCreate, "tools", "t1", rawJSON(t, map[string]any{"id": "t1"}), "")
	require.NoError(t, err)

	results := make(chan SyncResult, 16)
	sched := NewScheduler(engine, NewSignal(true), nil)
	stop := sched.Start(ctx, 10*time.Millisecond, func(r SyncResult) { results <- r })
	defer stop()

	select {
	case r := <-results:
		require.Equal(t, SyncResult{Processed: 1}, r)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the initial drain")
	}

	pending, err := queue.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSchedulerStopCancelsFutureTicks(t *testing.T) {
	remote := newFakeRemote()
	engine, _, queue := newTestEngine(t, remote, 0)
	ctx := context.Background()

	sched := NewScheduler(engine, NewSignal(true), nil)
	stop := sched.Start(ctx, 10*time.Millisecond, nil)

	// Let the immediate empty drain pass, then stop and queue new work.
	time.Sleep(30 * time.Millisecond)
	stop()
	stop() // idempotent

	_, err := queue.Enqueue(ctx, MutationCreate, "tools", "t1", rawJSON(t, map[string]any{"id": "t1"}), "")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	require.Zero(t, remote.callCount(), "no drain runs after stop")
}
