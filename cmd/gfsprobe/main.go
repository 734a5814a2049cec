// Command gfsprobe inspects NOMADS GFS data for one location from the
// terminal, without starting the service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/spf13/cobra"

	"github.com/joliver3/gfs-winter-weather/internal/adapter/nomads"
	"github.com/joliver3/gfs-winter-weather/internal/config"
	"github.com/joliver3/gfs-winter-weather/internal/domain"
	"github.com/joliver3/gfs-winter-weather/internal/forecast"
	"github.com/joliver3/gfs-winter-weather/internal/gridcache"
	"github.com/joliver3/gfs-winter-weather/internal/observability"
)

type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	client    *nomads.Client
	assembler *forecast.Assembler
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := sharedobs.NewLogger(cfg.LogLevel, "text")
	metrics := observability.NewMetricsForTesting()
	client := nomads.NewClient(cfg.NomadsBaseURL, cfg.NomadsTimeout, cfg.NomadsRateLimit, cfg.NomadsBurst, logger)
	grids := gridcache.New(client, cfg.CacheTTL, cfg.FetchWorkers, metrics, gridcache.WithLogger(logger))
	return &app{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		assembler: forecast.NewAssembler(grids, forecast.SettingsFromConfig(cfg), metrics, logger, forecast.WithProber(client)),
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gfsprobe",
		Short:         "Inspect GFS winter-weather data from NOMADS",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunsCmd(), newURLCmd(), newProbeCmd(), newSeriesCmd(), newForecastCmd())
	return root
}

func addLocationFlags(cmd *cobra.Command, lat, lon *float64) {
	cmd.Flags().Float64Var(lat, "lat", 0, "latitude in degrees")
	cmd.Flags().Float64Var(lon, "lon", 0, "longitude in degrees, west negative")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
}

func newRunsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the candidate runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tINIT\tAGE")
			for _, id := range forecast.CandidateRuns(now, !all, cfg.CompleteAfter) {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", id, id.Init.Format(time.RFC3339), now.Sub(id.Init).Truncate(time.Minute))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include runs that may still be publishing")
	return cmd
}

func newURLCmd() *cobra.Command {
	var (
		lat, lon float64
		run      string
		lead     int
	)
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Print the NOMADS filter URL for one run and lead hour",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			key, err := gridKey(a.cfg, lat, lon, run, lead)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), a.client.RequestURL(key))
			return err
		},
	}
	addLocationFlags(cmd, &lat, &lon)
	cmd.Flags().StringVar(&run, "run", "", "run id such as 20260105_06Z (default newest complete run)")
	cmd.Flags().IntVar(&lead, "fhr", domain.LeadStep, "forecast hour")
	return cmd
}

func newProbeCmd() *cobra.Command {
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Issue one diagnostic NOMADS request and report what came back",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			report, err := a.assembler.Probe(cmd.Context(), lat, lon)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	addLocationFlags(cmd, &lat, &lon)
	return cmd
}

func newSeriesCmd() *cobra.Command {
	var (
		lat, lon float64
		run      string
	)
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Fetch one run and print its time series at the location",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			key, err := gridKey(a.cfg, lat, lon, run, 0)
			if err != nil {
				return err
			}
			r, err := a.assembler.LoadRun(cmd.Context(), key.Run, key.BBox, lat, lon)
			if err != nil {
				return err
			}
			return printSeries(cmd.OutOrStdout(), r, forecast.SettingsFromConfig(a.cfg).Thresholds)
		},
	}
	addLocationFlags(cmd, &lat, &lon)
	cmd.Flags().StringVar(&run, "run", "", "run id such as 20260105_06Z (default newest complete run)")
	return cmd
}

func newForecastCmd() *cobra.Command {
	var (
		lat, lon float64
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Assemble the tiered winter-weather forecast",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			resp, err := a.assembler.Forecast(cmd.Context(), forecast.Request{Lat: lat, Lon: lon, CompleteOnly: !all})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	addLocationFlags(cmd, &lat, &lon)
	cmd.Flags().BoolVar(&all, "all-runs", false, "also use runs that may still be publishing")
	return cmd
}

func gridKey(cfg *config.Config, lat, lon float64, run string, lead int) (domain.GridKey, error) {
	if err := domain.ValidateCoordinates(lat, lon); err != nil {
		return domain.GridKey{}, err
	}
	var id domain.RunID
	if run == "" {
		candidates := forecast.CandidateRuns(time.Now(), true, cfg.CompleteAfter)
		if len(candidates) == 0 {
			return domain.GridKey{}, errors.New("no candidate runs")
		}
		id = candidates[0]
	} else {
		var err error
		if id, err = domain.ParseRunID(run); err != nil {
			return domain.GridKey{}, err
		}
	}
	return domain.GridKey{Run: id, LeadHour: lead, BBox: domain.BBoxAround(lat, lon, cfg.BBoxDelta)}, nil
}

func printSeries(w io.Writer, r domain.Run, th domain.Thresholds) error {
	fmt.Fprintf(w, "run %s: %s, %d samples\n", r.ID, r.Status, len(r.Samples))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "FHR\tVALID\tT2M_C\tAPCP_MM\tP6H_MM\t")
	for _, s := range r.Samples {
		mark := ""
		if domain.SnowIndicated(s, th) {
			mark = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f\t%.2f%s\t\n",
			s.LeadHour, s.ValidTime.Format("Jan 02 15Z"), s.TempC, s.AccumPrecipMM, s.Precip6hMM, mark)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
