// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package co_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spknetwork/honeygraph/co"
)

func TestGoes(t *testing.T) {
	var g co.Goes
	var n int32
	for i := 0; i < 10; i++ {
		g.Go(func() { atomic.AddInt32(&n, 1) })
	}
	<-g.Done()
	assert.Equal(t, int32(10), atomic.LoadInt32(&n))
}

func TestSignalBroadcast(t *testing.T) {
	var sig co.Signal
	var woke int32

	var g co.Goes
	for i := 0; i < 5; i++ {
		w := sig.NewWaiter()
		g.Go(func() {
			<-w.C()
			atomic.AddInt32(&woke, 1)
		})
	}
	time.Sleep(10 * time.Millisecond)
	sig.Broadcast()
	g.Wait()
	assert.Equal(t, int32(5), woke)
}

func TestSignalSignal(t *testing.T) {
	var sig co.Signal
	w := sig.NewWaiter()
	sig.Signal()
	select {
	case v := <-w.C():
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("signal not delivered")
	}
}

func TestParallel(t *testing.T) {
	var n int32
	co.Parallel(func(enqueue co.Enqueue) {
		for i := 0; i < 100; i++ {
			enqueue(func() { atomic.AddInt32(&n, 1) })
		}
	})
	assert.Equal(t, int32(100), n)
}
