package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"golang.org/x/time/rate"

	"github.com/erain9/batchingo/pkg/gateway"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "gateway base URL")
	account := flag.String("account", "", "account address")
	symbol := flag.String("symbol", "STT-USDC", "trading pair")
	workers := flag.Int("workers", 50, "concurrent submitters")
	ordersPerWorker := flag.Int("orders", 100, "orders per worker")
	rps := flag.Int("rps", 200, "submission rate limit per second")
	flag.Parse()

	client := gateway.NewClient(*addr, *account, 60*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		log.Println("Received interrupt signal, cleaning up...")
		cancel()
	}()

	if _, err := client.Health(ctx); err != nil {
		log.Fatalf("Gateway unreachable at %s: %v", *addr, err)
	}

	limiter := rate.NewLimiter(rate.Limit(*rps), *rps)
	var wg sync.WaitGroup
	errChan := make(chan error, *workers**ordersPerWorker)

	// Submission latency in microseconds, up to one minute
	hist := hdrhistogram.New(1, 60_000_000, 3)
	var histMu sync.Mutex

	total := *workers * *ordersPerWorker
	start := time.Now()
	log.Printf("Starting %d workers, %d orders per worker...", *workers, *ordersPerWorker)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < *ordersPerWorker; j++ {
				if err := limiter.Wait(ctx); err != nil {
					errChan <- fmt.Errorf("rate limiter error: %v", err)
					return
				}

				req := generateRandomOrder(*symbol, workerID**ordersPerWorker+j)
				began := time.Now()
				_, err := client.SubmitOrder(ctx, req)
				elapsed := time.Since(began)
				if err != nil {
					errChan <- fmt.Errorf("failed to submit order: %v", err)
					continue
				}

				histMu.Lock()
				_ = hist.RecordValue(elapsed.Microseconds())
				histMu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)
	close(errChan)

	var errors []error
	for err := range errChan {
		errors = append(errors, err)
	}

	succeeded := total - len(errors)
	log.Printf("Load test completed in %v", duration)
	log.Printf("Total orders attempted: %d", total)
	log.Printf("Errors encountered: %d", len(errors))
	log.Printf("Throughput: %.1f orders/s", float64(succeeded)/duration.Seconds())
	if succeeded > 0 {
		log.Printf("Submit latency p50=%s p95=%s p99=%s max=%s",
			time.Duration(hist.ValueAtQuantile(50))*time.Microsecond,
			time.Duration(hist.ValueAtQuantile(95))*time.Microsecond,
			time.Duration(hist.ValueAtQuantile(99))*time.Microsecond,
			time.Duration(hist.Max())*time.Microsecond)
	}

	if len(errors) > 0 {
		log.Printf("First error: %v", errors[0])
		os.Exit(1)
	}
}

func generateRandomOrder(symbol string, orderNum int) *gateway.SubmitOrderRequest {
	r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(orderNum)))
	side := "BUY"
	if r.Float64() < 0.5 {
		side = "SELL"
	}

	// Fixed price and quantity keep every order inside the venue's limits
	const (
		fixedPrice    = "100.00"
		fixedQuantity = "10.00"
	)

	return &gateway.SubmitOrderRequest{
		OrderID:  fmt.Sprintf("load-%d-%d", time.Now().UnixNano(), orderNum),
		Symbol:   symbol,
		Side:     side,
		Type:     "LIMIT",
		Quantity: fixedQuantity,
		Price:    fixedPrice,
	}
}
