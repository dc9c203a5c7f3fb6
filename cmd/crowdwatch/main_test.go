package main

import (
	"context"
	"sync"
	"testing"
)

// run defers stopPipelines after the device Close calls, so on every return
// path the loops must have exited before any handle is freed.
func TestStopPipelinesWaitsForWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	stopped := false
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		stopped = true
	}()

	stopPipelines(cancel, &wg)
	if !stopped {
		t.Fatal("stopPipelines returned before the worker observed cancellation")
	}
}
