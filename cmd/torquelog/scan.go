package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loykin/torquelog/internal/ingest"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func createScanCommand(globalFlags *GlobalFlags) *cobra.Command {
	scanFlags := &ScanFlags{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single sweep of the log folder and exit",
		Long: `Import every eligible file in the watched folder once and print the
sweep report. Exits non-zero when the folder cannot be read or a file failed.

Examples:
  torquelog scan --config=torquelog.toml
  torquelog scan --config=torquelog.toml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scanFlags.ConfigPath = globalFlags.ConfigPath
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runScan(ctx, scanFlags, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&scanFlags.JSON, "json", false, "print the report as JSON")

	return cmd
}

func runScan(ctx context.Context, flags *ScanFlags, out, console io.Writer) error {
	a, err := openApp(flags.ConfigPath, console, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	worker, err := a.newWorker()
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}
	if err := worker.RunOnce(ctx); err != nil {
		return err
	}
	rep := worker.LastReport()
	if flags.JSON {
		printJSON(out, rep)
	} else {
		printReport(out, rep)
	}
	if rep.Failed > 0 {
		return fmt.Errorf("%d file(s) failed to import", rep.Failed)
	}
	return nil
}

func printReport(w io.Writer, rep *ingest.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"File", "Outcome", "Detail", "Read", "Kept", "Took"})
	table.SetBorder(false)
	for _, f := range rep.Files {
		detail := f.Reason
		if f.Outcome == ingest.OutcomeFailed {
			detail = f.Stage + ": " + f.Error
		}
		table.Append([]string{
			f.Path,
			string(f.Outcome),
			detail,
			humanize.Comma(f.Read),
			humanize.Comma(f.Kept),
			f.Duration.Round(time.Millisecond).String(),
		})
	}
	table.Render()
	_, _ = fmt.Fprintf(w, "found %d, imported %d (recovered %d), skipped %d, failed %d in %s\n",
		rep.Found, rep.Imported, rep.Recovered, rep.Skipped, rep.Failed, rep.Duration().Round(time.Millisecond))
}
