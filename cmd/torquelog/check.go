package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loykin/torquelog/internal/config"
	"github.com/loykin/torquelog/internal/downsample"
	"github.com/loykin/torquelog/internal/marker"
	"github.com/loykin/torquelog/internal/torque"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// CheckResult is what check reports for one file. Nothing is written.
type CheckResult struct {
	Path      string        `json:"path"`
	Size      int64         `json:"size"`
	State     string        `json:"state"`
	StartTime time.Time     `json:"start_time"`
	FirstTime *time.Time    `json:"first_time,omitempty"`
	LastTime  *time.Time    `json:"last_time,omitempty"`
	Rows      int           `json:"rows"`
	Skipped   int           `json:"skipped_rows"`
	Kept      int           `json:"kept"`
	Interval  time.Duration `json:"downsample"`
	Fields    []string      `json:"fields,omitempty"`
}

func createCheckCommand(globalFlags *GlobalFlags) *cobra.Command {
	checkFlags := &CheckFlags{}
	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Classify a log file and preview its import without writing",
		Long: `Decode one Torque log and report how the importer would treat it:
its marker state, how many rows parse, and how many survive downsampling.
With --config the [torque_log] settings are used; flags override them.

Examples:
  torquelog check trackLog-2017-Jul-18_15-37-42.csv
  torquelog check --config=torquelog.toml --downsample=5s trip.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkFlags.ConfigPath = globalFlags.ConfigPath
			if checkFlags.ConfigPath != "" {
				cfg, err := loadConfig(checkFlags.ConfigPath)
				if err != nil {
					return err
				}
				applyConfigDefaults(cmd, checkFlags, cfg.TorqueLog)
			}
			res, err := runCheck(checkFlags, args[0])
			if err != nil {
				return err
			}
			if checkFlags.JSON {
				printJSON(cmd.OutOrStdout(), res)
			} else {
				printCheck(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&checkFlags.MinSize, "min-size", "", "minimum file size, e.g. 10k")
	cmd.Flags().StringVar(&checkFlags.MaxSize, "max-size", "", "maximum file size, e.g. 50M")
	cmd.Flags().DurationVar(&checkFlags.Downsample, "downsample", 0, "minimum gap between kept readings")
	cmd.Flags().StringVar(&checkFlags.Location, "location", "UTC", "time zone of device times")
	cmd.Flags().BoolVar(&checkFlags.JSON, "json", false, "print as JSON")
	return cmd
}

func applyConfigDefaults(cmd *cobra.Command, f *CheckFlags, tl config.TorqueLogConfig) {
	if !cmd.Flags().Changed("min-size") {
		f.MinSize = tl.MinSize
	}
	if !cmd.Flags().Changed("max-size") {
		f.MaxSize = tl.MaxSize
	}
	if !cmd.Flags().Changed("downsample") {
		f.Downsample = tl.Downsample
	}
	if !cmd.Flags().Changed("location") && tl.Location != "" {
		f.Location = tl.Location
	}
}

func runCheck(flags *CheckFlags, path string) (*CheckResult, error) {
	minSize, err := config.ParseSize(flags.MinSize)
	if err != nil {
		return nil, err
	}
	maxSize, err := config.ParseSize(flags.MaxSize)
	if err != nil {
		return nil, err
	}
	loc := time.UTC
	if flags.Location != "" {
		if loc, err = time.LoadLocation(flags.Location); err != nil {
			return nil, fmt.Errorf("invalid location %q: %w", flags.Location, err)
		}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	state, err := marker.NewTracker(minSize, maxSize).Classify(path)
	if err != nil {
		return nil, err
	}
	res := &CheckResult{Path: path, Size: fi.Size(), State: state.String(), Interval: flags.Downsample}

	src, err := torque.NewOpener(loc).Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()
	res.StartTime = src.StartTime()

	sampler := downsample.New(flags.Downsample)
	seen := map[string]struct{}{}
	for {
		r, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		res.Rows++
		if res.FirstTime == nil {
			t := r.Time
			res.FirstTime = &t
		}
		t := r.Time
		res.LastTime = &t
		for k := range r.Fields {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				res.Fields = append(res.Fields, k)
			}
		}
		sampler.Offer(r)
	}
	sampler.Flush()
	sort.Strings(res.Fields)
	_, kept := sampler.Stats()
	res.Kept = int(kept)
	if tr, ok := src.(*torque.Reader); ok {
		res.Skipped = tr.Skipped()
	}
	return res, nil
}

func printCheck(w io.Writer, res *CheckResult) {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.AppendBulk([][]string{
		{"File", res.Path},
		{"Size", humanize.IBytes(uint64(res.Size))},
		{"State", res.State},
		{"Start", res.StartTime.UTC().Format(time.RFC3339)},
		{"First reading", formatTime(res.FirstTime)},
		{"Last reading", formatTime(res.LastTime)},
		{"Rows", humanize.Comma(int64(res.Rows))},
		{"Skipped rows", humanize.Comma(int64(res.Skipped))},
		{"Kept (" + res.Interval.String() + ")", humanize.Comma(int64(res.Kept))},
		{"Extra columns", fmt.Sprint(len(res.Fields))},
	})
	table.Render()
}
