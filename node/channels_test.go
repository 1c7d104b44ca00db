// Copyright 2025 The lantern Authors
// This file is part of the lantern library.
//
// The lantern library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The lantern library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the lantern library. If not, see <http://www.gnu.org/licenses/>.

package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueDeliversInOrder(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 100; i++ {
		q.push(i)
	}
	for i := 0; i < 100; i++ {
		require.Equal(t, i, <-q.out)
	}
	q.close()
	_, open := <-q.out
	require.False(t, open)
}

func TestQueueCloseDrainsPending(t *testing.T) {
	q := newQueue[string]()
	q.push("a")
	q.push("b")
	q.close()
	require.Equal(t, "a", <-q.out)
	require.Equal(t, "b", <-q.out)
	_, open := <-q.out
	require.False(t, open)
}

func TestQueuePushNeverBlocks(t *testing.T) {
	q := newQueue[int]()
	defer q.close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10_000; i++ {
			q.push(i) // nobody reading
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("unbounded push blocked")
	}
}

func TestLogFeedDropsWhenLagging(t *testing.T) {
	feed := newLogFeed()
	sub := feed.subscribe()
	for i := 0; i < logCapacity+10; i++ {
		feed.send("line")
	}
	// The buffer holds exactly logCapacity; the rest were dropped
	// without blocking the sender.
	require.Len(t, sub, logCapacity)
	feed.close()
	drained := 0
	for range sub {
		drained++
	}
	require.Equal(t, logCapacity, drained)
}

func TestLogFeedSubscribeAfterClose(t *testing.T) {
	feed := newLogFeed()
	feed.close()
	sub := feed.subscribe()
	_, open := <-sub
	require.False(t, open)
}
