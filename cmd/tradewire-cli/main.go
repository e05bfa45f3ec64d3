package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"

	"tradewire/pkg/tradewire"
)

const version = "0.1.0"

var brokerNames = []string{"oanda", "tradovate", "coinbase"}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tradewire-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version       Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  health        Show server health\n")
		fmt.Fprintf(os.Stderr, "  status        Show broker account status\n")
		fmt.Fprintf(os.Stderr, "  executions    List recent executions\n")
		fmt.Fprintf(os.Stderr, "  send          Send a manual trading signal\n")
		fmt.Fprintf(os.Stderr, "\nThe server address comes from -server or TRADEWIRE_SERVER\n")
		fmt.Fprintf(os.Stderr, "(default http://localhost:8080).\n\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	var err error

	switch os.Args[1] {
	case "version":
		fmt.Printf("tradewire-cli %s\n", version)

	case "health":
		err = runHealth(ctx, os.Args[2:])

	case "status":
		err = runStatus(ctx, os.Args[2:])

	case "executions":
		err = runExecutions(ctx, os.Args[2:])

	case "send":
		err = runSend(ctx, os.Args[2:])

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// serverFlag registers the shared -server option on a command flag set.
func serverFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("TRADEWIRE_SERVER")
	if def == "" {
		def = "http://localhost:8080"
	}
	return fs.String("server", def, "tradewire server address")
}

func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	server := serverFlag(fs)
	fs.Parse(args)

	doc, err := tradewire.NewClient(*server).Health(ctx)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	server := serverFlag(fs)
	fs.Parse(args)

	client := tradewire.NewClient(*server)
	rows := make([][]string, len(brokerNames))

	// Probe the three brokers in parallel; a failing broker becomes a row,
	// not a command failure.
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range brokerNames {
		g.Go(func() error {
			doc, err := client.BrokerStatus(gctx, name)
			if err != nil {
				rows[i] = []string{name, "unreachable", err.Error()}
				return nil
			}
			rows[i] = []string{name, "ok", summarizeStatus(doc)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Broker", "Status", "Detail")
	for _, row := range rows {
		table.Append(row[0], row[1], row[2])
	}
	table.Render()
	return nil
}

// summarizeStatus flattens a broker status document into one short line.
func summarizeStatus(doc map[string]any) string {
	drop := map[string]bool{"broker": true}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		if !drop[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, doc[k]))
	}
	return strings.Join(parts, " ")
}

func runExecutions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("executions", flag.ExitOnError)
	server := serverFlag(fs)
	limit := fs.Int("limit", 20, "maximum executions to list")
	fs.Parse(args)

	execs, err := tradewire.NewClient(*server).Executions(ctx, *limit)
	if err != nil {
		return err
	}
	if len(execs) == 0 {
		fmt.Println("no executions recorded")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Received", "Exchange", "Symbol", "Instrument", "Dir", "Status", "Ms")
	for _, e := range execs {
		table.Append(
			e.ReceivedAt.UTC().Format("2006-01-02 15:04:05"),
			e.Exchange,
			e.Symbol,
			e.Instrument,
			e.Direction,
			e.Status,
			strconv.FormatInt(e.DurationMS, 10),
		)
	}
	table.Render()
	return nil
}

func runSend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	server := serverFlag(fs)
	exchange := fs.String("exchange", "", "exchange name, e.g. OANDA or CME_MINI")
	symbol := fs.String("symbol", "", "ticker symbol, e.g. EURUSD or NQ1!")
	direction := fs.String("direction", "", "signal direction: long or short")
	fs.Parse(args)

	if *exchange == "" || *symbol == "" || *direction == "" {
		return fmt.Errorf("send requires -exchange, -symbol and -direction")
	}

	res, err := tradewire.NewClient(*server).SendSignal(ctx, *exchange, *symbol, *direction)
	if err != nil {
		return err
	}

	fmt.Printf("%s (execution %s, %dms)\n", res.Message, res.Execution.ID, res.Execution.DurationMS)
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Action", "Status", "Detail")
	for _, step := range res.Execution.Steps {
		detail := step.Detail
		if step.Error != "" {
			detail = step.Error
		}
		table.Append(step.Action, step.Status, detail)
	}
	table.Render()
	return nil
}
