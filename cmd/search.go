package cmd

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fareloom/fareloom/internal/observability"
	"github.com/fareloom/fareloom/pkg/engine"
	"github.com/fareloom/fareloom/pkg/output"
	"github.com/fareloom/fareloom/pkg/proxy"
	"github.com/fareloom/fareloom/pkg/schemas"
	"github.com/fareloom/fareloom/pkg/scrapers"

	// Site plugins register themselves on import.
	_ "github.com/fareloom/fareloom/pkg/scrapers/skyway"
)

const dateLayout = "2006-01-02"

var searchFlags struct {
	from         string
	to           string
	date         string
	returnDate   string
	passengers   int
	sites        []string
	useProxy     bool
	showRequests bool
	outFile      string
	pretty       bool
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search fares across one or more sites",
	Example: `  fareloom search --from SFO --to NRT --date 2026-09-14
  fareloom search --from SFO --to NRT --date 2026-09-14 --return 2026-09-21 \
      --sites skyway --proxy --show-requests`,
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchFlags.from, "from", "", "origin airport code (required)")
	f.StringVar(&searchFlags.to, "to", "", "destination airport code (required)")
	f.StringVar(&searchFlags.date, "date", "", "departure date, YYYY-MM-DD (required)")
	f.StringVar(&searchFlags.returnDate, "return", "", "return date for round trips, YYYY-MM-DD")
	f.IntVar(&searchFlags.passengers, "passengers", 1, "number of adult passengers")
	f.StringSliceVar(&searchFlags.sites, "sites", nil, "sites to scrape (default: all registered)")
	f.BoolVar(&searchFlags.useProxy, "proxy", false, "rotate proxies from the configured pool")
	f.BoolVar(&searchFlags.showRequests, "show-requests", false, "log every intercepted request decision")
	f.StringVarP(&searchFlags.outFile, "output", "o", "", "write the report to a file instead of stdout")
	f.BoolVar(&searchFlags.pretty, "pretty", true, "indent the JSON report")

	for _, req := range []string{"from", "to", "date"} {
		_ = searchCmd.MarkFlagRequired(req)
	}
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	log := observability.GetLogger().Named("cli")

	q, err := buildQuery()
	if err != nil {
		return err
	}
	sites := searchFlags.sites
	if len(sites) == 0 {
		sites = scrapers.Names()
	}
	if len(sites) == 0 {
		return fmt.Errorf("no site plugins registered")
	}

	cfg := *appCfg
	if searchFlags.useProxy {
		cfg.Engine.UseProxy = true
	}
	if searchFlags.showRequests {
		cfg.Engine.ShowRequests = true
	}

	var pool *proxy.Pool
	if cfg.Engine.UseProxy {
		pool, err = proxy.NewPool(cfg.Proxy.Servers, cfg.Proxy.HealthCheckURL, cfg.Proxy.ProbeTimeout, log)
		if err != nil {
			return fmt.Errorf("building proxy pool: %w", err)
		}
	}

	launcher := engine.NewLauncher(&cfg, pool, log)
	orch := engine.NewOrchestrator(cfg.Engine, cfg.Network, launcher.Launch, log)

	log.Info("starting search",
		zap.String("route", q.Origin+"-"+q.Destination),
		zap.Time("date", q.Date),
		zap.Strings("sites", sites))

	var (
		mu      sync.Mutex
		results []output.SiteResult
	)
	g, gctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(3)
	for _, site := range sites {
		g.Go(func() error {
			scraper, err := scrapers.Get(site)
			if err != nil {
				return err
			}
			res := output.SiteResult{Site: site}
			records, stats, runErr := orch.Run(gctx, scraper, q)
			if stats != nil {
				res.Attempts = stats.Attempts
				res.Duration = stats.Duration
				res.Bandwidth = stats.Bandwidth
			}
			if runErr != nil {
				// One dead site must not sink the batch.
				log.Error("site failed", zap.String("site", site), zap.Error(runErr))
				res.Error = runErr.Error()
			} else {
				res.Records = records
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := os.Stdout
	if searchFlags.outFile != "" {
		f, err := os.Create(searchFlags.outFile)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	report := output.NewReport(q, results)
	if err := output.NewWriter(out, searchFlags.pretty).WriteReport(report); err != nil {
		return err
	}
	log.Info("search finished", zap.Int("total_fares", report.TotalFares))
	return nil
}

func buildQuery() (schemas.Query, error) {
	var q schemas.Query
	depart, err := time.Parse(dateLayout, searchFlags.date)
	if err != nil {
		return q, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", searchFlags.date)
	}
	q = schemas.Query{
		Origin:      searchFlags.from,
		Destination: searchFlags.to,
		Date:        depart,
		Passengers:  searchFlags.passengers,
	}
	if searchFlags.returnDate != "" {
		ret, err := time.Parse(dateLayout, searchFlags.returnDate)
		if err != nil {
			return q, fmt.Errorf("invalid --return %q: want YYYY-MM-DD", searchFlags.returnDate)
		}
		if ret.Before(depart) {
			return q, fmt.Errorf("--return %s is before --date %s", searchFlags.returnDate, searchFlags.date)
		}
		q.ReturnDate = ret
	}
	return q, nil
}
