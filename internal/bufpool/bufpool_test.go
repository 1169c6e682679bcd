// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsResetBuffer(t *testing.T) {
	b := Get(0)
	b.WriteString("frame")
	Put(b)

	b2 := Get(0)
	assert.Zero(t, b2.Len())
	Put(b2)
}

func TestGetReservesCapacity(t *testing.T) {
	b := Get(4096)
	defer Put(b)
	assert.GreaterOrEqual(t, b.Cap(), 4096)
}

func TestPutDiscardsOversizedBuffer(t *testing.T) {
	b := Get(maxPooledCap + 1)
	assert.NotPanics(t, func() { Put(b) })
	assert.NotPanics(t, func() { Put(nil) })
}

func TestConcurrentGetPut(t *testing.T) {
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := Get(32)
			b.WriteString("concurrent frame data")
			Put(b)
		}()
	}
	wg.Wait()
}
