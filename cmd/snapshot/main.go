// Package main performs one aggregation cycle and prints the resulting
// on-chain state as JSON, Markdown or CSV, followed by a timing summary on
// stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"jpyc-onchain-lab/internal/api"
	"jpyc-onchain-lab/internal/app"
	"jpyc-onchain-lab/internal/config"
	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/observability"
	"jpyc-onchain-lab/internal/onchain"
	"jpyc-onchain-lab/internal/reporting"
)

func main() {
	config.LoadEnvFile(".env")

	timeout := flag.Duration("timeout", 2*time.Minute, "Overall fetch timeout")
	output := flag.String("output", "", "Write to this file instead of stdout")
	format := flag.String("format", "json", "Output format: json, markdown, holders-csv, distribution-csv")
	withPrice := flag.Bool("price", false, "Include market data in the markdown report")
	record := flag.Bool("record", false, "Insert the snapshot into the configured history store")
	summary := flag.Bool("summary", true, "Print the performance summary to stderr")
	verbose := flag.Bool("verbose", false, "Log upstream activity to stderr")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(io.Discard, "", 0)
	if *verbose {
		logger = log.New(os.Stderr, "[snapshot] ", log.LstdFlags)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	recorder := observability.NewRecorder(observability.DefaultRecorderCapacity)
	upstreams := app.NewUpstreams(cfg, recorder, logger)

	state, err := upstreams.Engine.Fetch(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching on-chain state: %v\n", err)
		os.Exit(1)
	}

	if *record {
		if err := recordHistory(ctx, cfg, state, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Error recording history: %v\n", err)
			os.Exit(1)
		}
	}

	var price *domain.PriceData
	if *withPrice {
		p, err := upstreams.Prices.Price(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: price unavailable: %v\n", err)
		} else {
			price = &p
		}
	}

	data, err := render(ctx, *format, state, price)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error rendering %s: %v\n", *format, err)
		os.Exit(1)
	}

	if *output != "" {
		if err := os.WriteFile(*output, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *output, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", *output)
	} else {
		os.Stdout.Write(data)
	}

	if len(state.DegradedChains) > 0 {
		fmt.Fprintf(os.Stderr, "Degraded chains: %v\n", state.DegradedChains)
	}
	if *summary {
		fmt.Fprintln(os.Stderr, recorder.Summary())
	}
}

func render(ctx context.Context, format string, state *domain.OnChainState, price *domain.PriceData) ([]byte, error) {
	if format == "json" {
		data, err := api.MarshalView(onchain.View{State: onchain.StateFresh, Data: *state, LastSuccess: state.FetchedAt}, true)
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}

	report, err := reporting.NewGenerator(nil).Generate(ctx, state, price)
	if err != nil {
		return nil, err
	}

	var out string
	switch format {
	case "markdown":
		out = reporting.RenderMarkdown(report)
	case "holders-csv":
		out, err = reporting.RenderHoldersCSV(report)
	case "distribution-csv":
		out, err = reporting.RenderDistributionCSV(report)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return []byte(out), err
}

func recordHistory(ctx context.Context, cfg *config.Config, state *domain.OnChainState, logger *log.Logger) error {
	stores, cleanup, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	return stores.History.Insert(ctx, domain.NewSupplySnapshot(state))
}
