package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erain9/batchingo/pkg/gateway"
)

var (
	serverAddr = flag.String("addr", "http://localhost:8080", "The gateway base URL")
	account    = flag.String("account", "", "Account address (optional on single-account gateways)")
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Check if we have enough arguments
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Get the command
	command := os.Args[1]

	// Remove the command from os.Args to make flag parsing work
	os.Args = append(os.Args[:1], os.Args[2:]...)
	flag.Parse()

	// Create a context with timeout large enough for a dispatch round trip
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := gateway.NewClient(*serverAddr, *account, 60*time.Second)

	args := flag.Args()
	switch command {
	case "submit":
		submitOrder(ctx, client, args)
	case "cancel":
		if len(args) < 2 {
			fmt.Println("Usage: cancel <symbol> <exchange-id>")
			os.Exit(1)
		}
		cancelOrder(ctx, client, args[0], args[1])
	case "status":
		if len(args) < 1 {
			fmt.Println("Usage: status <exchange-id>")
			os.Exit(1)
		}
		orderStatus(ctx, client, args[0])
	case "balances":
		balances(ctx, client)
	case "book":
		if len(args) < 1 {
			fmt.Println("Usage: book <symbol>")
			os.Exit(1)
		}
		if err := printBook(ctx, client, args[0]); err != nil {
			log.Fatal().Err(err).Msg("Book failed")
		}
	case "perf":
		if err := printPerf(ctx, client); err != nil {
			log.Fatal().Err(err).Msg("Perf failed")
		}
	case "health":
		health(ctx, client)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func submitOrder(ctx context.Context, client *gateway.Client, args []string) {
	if len(args) < 4 {
		fmt.Println("Usage: submit <symbol> <side> <type> <quantity> [price] [order-id]")
		os.Exit(1)
	}

	req := &gateway.SubmitOrderRequest{
		Symbol:   args[0],
		Side:     args[1],
		Type:     args[2],
		Quantity: args[3],
	}
	if len(args) > 4 {
		req.Price = args[4]
	}
	if len(args) > 5 {
		req.OrderID = args[5]
	}

	started := time.Now()
	resp, err := client.SubmitOrder(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Msg("SubmitOrder failed")
	}

	log.Info().
		Str("order_id", resp.OrderID).
		Str("exchange_id", resp.ExchangeID).
		Bool("batched", resp.Batched).
		Dur("round_trip", time.Since(started)).
		Msg("Order submitted")
}

func cancelOrder(ctx context.Context, client *gateway.Client, symbol, exchangeID string) {
	if err := client.CancelOrder(ctx, symbol, exchangeID); err != nil {
		log.Fatal().Err(err).Msg("CancelOrder failed")
	}
	log.Info().Str("exchange_id", exchangeID).Msg("Order canceled")
}

func orderStatus(ctx context.Context, client *gateway.Client, exchangeID string) {
	resp, err := client.OrderStatus(ctx, exchangeID)
	if err != nil {
		log.Fatal().Err(err).Msg("OrderStatus failed")
	}
	log.Info().
		Str("exchange_id", resp.ExchangeID).
		Str("status", resp.Status).
		Msg("Order status")
}

func balances(ctx context.Context, client *gateway.Client) {
	resp, err := client.Balances(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Balances failed")
	}

	tokens := make([]string, 0, len(resp.Balances))
	for token := range resp.Balances {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		log.Info().
			Str("token", token).
			Str("amount", resp.Balances[token]).
			Msg("Balance")
	}
	if len(tokens) == 0 {
		log.Info().Str("account", resp.Account).Msg("No balances")
	}
}

func printBook(ctx context.Context, client *gateway.Client, symbol string) error {
	color.NoColor = false
	cyan := color.New(color.FgCyan).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()
	green := color.New(color.FgGreen).SprintfFunc()

	resp, err := client.Book(ctx, symbol)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)

	fmt.Fprintf(w, "%15s|%15s|%s\n",
		cyan("Price"),
		cyan("Quantity"),
		cyan("Side"))
	fmt.Fprintf(w, "%15s|%15s|%s\n",
		"---------------",
		"---------------",
		"----")

	// Asks print high to low so the spread sits in the middle
	for i := len(resp.Asks) - 1; i >= 0; i-- {
		lvl := resp.Asks[i]
		fmt.Fprintf(w, "%15.3f|%15.3f|%s\n",
			parseFloat(lvl.Price),
			parseFloat(lvl.Quantity),
			red("ASK"))
	}

	if resp.MidPrice != "" {
		fmt.Fprintf(w, "%15s|%15s|%s\n",
			cyan(resp.MidPrice),
			"",
			cyan("MID"))
	}

	for _, lvl := range resp.Bids {
		fmt.Fprintf(w, "%15.3f|%15.3f|%s\n",
			parseFloat(lvl.Price),
			parseFloat(lvl.Quantity),
			green("BID"))
	}

	return w.Flush()
}

func printPerf(ctx context.Context, client *gateway.Client) error {
	summaries, err := client.Performance(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "name\tcount\tmean\tmin\tmax\tlast\n")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			s.Name, s.Count, s.Mean, s.Min, s.Max, s.Last)
	}
	return w.Flush()
}

func health(ctx context.Context, client *gateway.Client) {
	resp, err := client.Health(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Health failed")
	}
	log.Info().
		Str("status", resp.Status).
		Int64("uptime_seconds", resp.UptimeSeconds).
		Int("connectors", resp.Connectors).
		Int("pending", resp.Pending).
		Msg("Gateway health")
}

// Helper function to parse float strings safely
func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  submit <symbol> <side> <type> <quantity> [price] [order-id]")
	fmt.Println("  cancel <symbol> <exchange-id>")
	fmt.Println("  status <exchange-id>")
	fmt.Println("  balances")
	fmt.Println("  book <symbol>")
	fmt.Println("  perf")
	fmt.Println("  health")
	fmt.Println("\nExamples:")
	fmt.Println("  submit STT-USDC BUY LIMIT 1.5 100.0")
	fmt.Println("  submit STT-USDC SELL MARKET 2.0")
	fmt.Println("  cancel STT-USDC 0xabc123:order-1")
	fmt.Println("  status 0xabc123:order-1")
	fmt.Println("  book STT-USDC")
}
