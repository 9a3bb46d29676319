package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignPicksFirstIdleWorker(t *testing.T) {
	var mu sync.Mutex
	var handled []int
	done := make(chan struct{}, 10)

	p := NewPool(3, func(conn net.Conn, workerID int) {
		mu.Lock()
		handled = append(handled, workerID)
		mu.Unlock()
		conn.Close()
		done <- struct{}{}
	})

	client, server := net.Pipe()
	defer client.Close()

	require.True(t, p.Assign(server))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker never handled connection")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0}, handled)
}

func TestAssignReturnsFalseWhenPoolIsSaturated(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	p := NewPool(1, func(conn net.Conn, workerID int) {
		started <- struct{}{}
		<-release
		conn.Close()
	})

	client1, server1 := net.Pipe()
	defer client1.Close()
	require.True(t, p.Assign(server1))

	<-started // the single worker is now busy

	client2, server2 := net.Pipe()
	defer client2.Close()
	defer server2.Close()
	assert.False(t, p.Assign(server2))

	close(release)
}

func TestSizeReportsWorkerCount(t *testing.T) {
	p := NewPool(5, func(net.Conn, int) {})
	assert.Equal(t, 5, p.Size())
}
