package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/yourorg/comps-api/internal/canon"
	"github.com/yourorg/comps-api/internal/comps"
	"github.com/yourorg/comps-api/internal/config"
	"github.com/yourorg/comps-api/internal/logger"
	"github.com/yourorg/comps-api/internal/provider"
)

const usage = `usage:
  comps sales   "<street, city, ST zip>"
  comps similar "<street, city, ST zip>" [radius_miles]`

// searcher is the part of comps.Service the CLI drives.
type searcher interface {
	FindSalesComparables(ctx context.Context, addr comps.AddressComponents, opts comps.SalesOptions) (comps.ComparableSearchResult, error)
	FindSimilarProperties(ctx context.Context, addr comps.AddressComponents, opts comps.SimilarOptions) (comps.ComparableSearchResult, error)
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cfg := config.Load()
	logger.Init("comps-cli", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack := provider.Build(ctx, cfg, nil)
	svc := comps.NewService(stack.Comps, cfg.Comps.Settings())
	code := run(ctx, svc, os.Args[1:], os.Stdout, os.Stderr)
	stack.Close()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, svc searcher, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	addr := canon.ParseOneLine(args[1])
	if addr.City == "" || addr.State == "" || addr.Zip == "" {
		fmt.Fprintf(stderr, "address must look like \"street, city, ST zip\": %q\n", args[1])
		return 2
	}

	var (
		res comps.ComparableSearchResult
		err error
	)
	switch args[0] {
	case "sales":
		res, err = svc.FindSalesComparables(ctx, addr, comps.SalesOptions{})
	case "similar":
		var opts comps.SimilarOptions
		if len(args) > 2 {
			r, perr := strconv.ParseFloat(args[2], 64)
			if perr != nil || r <= 0 {
				fmt.Fprintf(stderr, "invalid radius %q\n", args[2])
				return 2
			}
			opts.RadiusMiles = r
		}
		res, err = svc.FindSimilarProperties(ctx, addr, opts)
	default:
		fmt.Fprintln(stderr, usage)
		return 2
	}

	var nc *comps.NoComparablesError
	if errors.As(err, &nc) {
		fmt.Fprintf(stdout, "no comparables found for %s within %.2f miles (%d queries)\n",
			res.Subject.Address, nc.FinalRadiusMiles, nc.Iterations)
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
