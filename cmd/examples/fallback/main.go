package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"

	"github.com/erain9/batchingo/pkg/backend/memory"
	"github.com/erain9/batchingo/pkg/core"
	"github.com/erain9/batchingo/pkg/dispatch"
)

// Demonstrates the per-order fallback path: when a batch submission
// fails, the dispatcher retries each order individually so one bad
// order cannot sink its batchmates.
func main() {
	backend := memory.NewBackend()

	// The next batch call fails as a whole, forcing the fallback
	backend.FailNextBatches(1)
	// And one specific order keeps failing even individually
	backend.FailOrder("order-1", core.ErrSubmissionFailed)

	dispatcher, err := dispatch.New(backend, dispatch.Options{
		SizeThreshold: 3,
		Timeout:       time.Second,
		FallbackLimit: 4,
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

	handles := make(map[string]*dispatch.Handle, 3)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("order-%d", i)
		req, err := core.NewLimitRequest(id, "STT-USDC", core.Sell,
			fpdecimal.FromFloat(2.0), fpdecimal.FromFloat(101.0), account)
		if err != nil {
			panic(err)
		}
		handle, err := dispatcher.Submit(ctx, req)
		if err != nil {
			panic(err)
		}
		handles[id] = handle
	}

	for id, handle := range handles {
		ref, err := handle.Wait(ctx)
		if err != nil {
			fmt.Printf("%s: failed (%v)\n", id, err)
			continue
		}
		fmt.Printf("%s: submitted individually, ref=%s\n", id, ref)
	}

	fmt.Printf("\nVenue calls after fallback: %d\n", backend.SubmissionCount())

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dispatcher.Stop(stopCtx); err != nil {
		panic(err)
	}
}
