package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erain9/batchingo/pkg/backend/memory"
	"github.com/erain9/batchingo/pkg/backend/standard"
	"github.com/erain9/batchingo/pkg/connector"
	"github.com/erain9/batchingo/pkg/core"
	"github.com/erain9/batchingo/pkg/state"

	"github.com/nikolaydubina/fpdecimal"
)

const (
	redisAddr = "localhost:6379"
	redisDB   = 0
	prefix    = "batchingo-example"
	account   = "0x0000000000000000000000000000000000000001"
)

func main() {
	// Connect to Redis
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: "", // no password set
		DB:       redisDB,
	})

	ctx := context.Background()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	fmt.Printf("Redis connection established: %s\n", pong)

	// Flush the database to start fresh
	client.FlushDB(ctx)

	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	store := state.NewRedisStore(client, prefix, zapLogger)

	// Run a connector whose order records live in Redis
	cfg := &connector.Config{
		Domain:          standard.Testnet,
		Account:         account,
		Symbols:         []string{"STT-USDC"},
		MinOrderSize:    standard.MinOrderSize,
		MaxOrderSize:    standard.MaxOrderSize,
		BatchingEnabled: true,
		BatchSize:       2,
		BatchWindow:     200 * time.Millisecond,
		MaxPending:      100,
		DispatchTimeout: 10 * time.Second,
		Workers:         1,
		FallbackLimit:   4,
		BookInterval:    time.Second,
		BalanceInterval: time.Minute,
		StatusInterval:  time.Minute,
		RulesInterval:   time.Hour,
		RequestTimeout:  5 * time.Second,
	}

	conn, err := connector.New(cfg, memory.NewBackend(), store, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		panic(err)
	}
	if err := conn.Start(ctx); err != nil {
		panic(err)
	}

	orderID := fmt.Sprintf("buy_%d", time.Now().UnixMilli())
	req, err := core.NewLimitRequest(orderID, "STT-USDC", core.Buy,
		fpdecimal.FromFloat(5.0), fpdecimal.FromFloat(10.0), account)
	if err != nil {
		panic(err)
	}

	exchangeID, err := conn.SubmitOrder(ctx, req)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Order submitted: %s\n", exchangeID)

	// Show what landed in Redis
	rec, err := store.GetOrder(ctx, orderID)
	if err != nil {
		panic(err)
	}
	fmt.Println("\nOrder record stored in Redis:")
	fmt.Printf("- ID=%s Status=%s Ref=%s Batched=%v\n", rec.ID, rec.Status, rec.Ref, rec.Batched)

	raw, _ := client.Get(ctx, fmt.Sprintf("%s:order:%s", prefix, orderID)).Result()
	fmt.Printf("- Raw Redis data: %s\n", raw)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Stop(stopCtx); err != nil {
		panic(err)
	}
}
