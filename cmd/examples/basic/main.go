package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"

	"github.com/erain9/batchingo/pkg/backend/memory"
	"github.com/erain9/batchingo/pkg/core"
	"github.com/erain9/batchingo/pkg/dispatch"
)

func main() {
	// Initialize the dispatcher over the in-memory venue simulator
	backend := memory.NewBackend()
	backend.SetLatency(50 * time.Millisecond) // pretend the chain is slow

	dispatcher, err := dispatch.New(backend, dispatch.Options{
		SizeThreshold: 3,
		Timeout:       200 * time.Millisecond,
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		panic(err)
	}
	if err := dispatcher.Start(); err != nil {
		panic(err)
	}

	ctx := context.Background()
	account := "0x0000000000000000000000000000000000000001"

	// Submit three orders concurrently; the size threshold groups them
	// into a single venue submission.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			req, err := core.NewLimitRequest(
				fmt.Sprintf("order-%d", n),
				"STT-USDC",
				core.Buy,
				fpdecimal.FromFloat(1.5),
				fpdecimal.FromFloat(100.0),
				account,
			)
			if err != nil {
				panic(err)
			}

			handle, err := dispatcher.Submit(ctx, req)
			if err != nil {
				panic(err)
			}

			// Wait blocks until the whole batch is dispatched
			ref, err := handle.Wait(ctx)
			if err != nil {
				panic(err)
			}
			fmt.Printf("order-%d submitted, ref=%s\n", n, ref)
		}(i)
	}
	wg.Wait()

	// All three orders shared one venue submission
	fmt.Printf("\nVenue submissions: %d\n", backend.SubmissionCount())
	for _, sub := range backend.Journal() {
		fmt.Printf("- %s: batched=%v batch_size=%d\n", sub.RequestID, sub.Batched, sub.BatchSize)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dispatcher.Stop(stopCtx); err != nil {
		panic(err)
	}
}
