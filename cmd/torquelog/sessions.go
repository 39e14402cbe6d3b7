package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/loykin/torquelog/internal/archive"
	"github.com/loykin/torquelog/internal/store"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func createSessionsCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect imported sessions",
	}
	cmd.AddCommand(
		createSessionsListCommand(globalFlags),
		createSessionsShowCommand(globalFlags),
		createSessionsExportCommand(globalFlags),
	)
	return cmd
}

func createSessionsListCommand(globalFlags *GlobalFlags) *cobra.Command {
	listFlags := &SessionsFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listFlags.ConfigPath = globalFlags.ConfigPath
			return runSessionsList(cmd.Context(), listFlags, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().IntVar(&listFlags.Limit, "limit", 50, "maximum number of sessions")
	cmd.Flags().BoolVar(&listFlags.JSON, "json", false, "print as JSON")
	return cmd
}

func createSessionsShowCommand(globalFlags *GlobalFlags) *cobra.Command {
	showFlags := &SessionsFlags{}
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showFlags.ConfigPath = globalFlags.ConfigPath
			return runSessionsShow(cmd.Context(), showFlags, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&showFlags.JSON, "json", false, "print as JSON")
	return cmd
}

func createSessionsExportCommand(globalFlags *GlobalFlags) *cobra.Command {
	exportFlags := &ExportFlags{}
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export the readings of a session to a Parquet file",
		Long: `Write every stored reading of a session to a Parquet file.

Examples:
  torquelog sessions export 5f0c... --out trip.parquet
  torquelog sessions export 5f0c... --out trip.parquet --compression zstd`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportFlags.ConfigPath = globalFlags.ConfigPath
			return runSessionsExport(cmd.Context(), exportFlags, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&exportFlags.Out, "out", "", "output Parquet file (required)")
	cmd.Flags().StringVar(&exportFlags.Compression, "compression", "snappy", "snappy, gzip, zstd or none")
	if err := cmd.MarkFlagRequired("out"); err != nil {
		panic(err)
	}
	return cmd
}

func runSessionsList(ctx context.Context, flags *SessionsFlags, out, console io.Writer) error {
	a, err := openApp(flags.ConfigPath, console, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	list, err := a.store.ListSessions(ctx, flags.Limit)
	if err != nil {
		return err
	}
	if flags.JSON {
		printJSON(out, list)
		return nil
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "Origin", "Status", "Started", "Duration", "Readings", "Distance", "Max speed"})
	table.SetBorder(false)
	for _, s := range list {
		table.Append(sessionRow(s))
	}
	table.Render()
	return nil
}

func runSessionsShow(ctx context.Context, flags *SessionsFlags, id string, out, console io.Writer) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session id %q: %w", id, err)
	}
	a, err := openApp(flags.ConfigPath, console, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	sess, err := a.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if flags.JSON {
		printJSON(out, sess)
		return nil
	}
	_, _ = fmt.Fprintf(out, "ID:         %s\n", sess.ID)
	_, _ = fmt.Fprintf(out, "Origin:     %s\n", sess.Origin)
	_, _ = fmt.Fprintf(out, "Status:     %s\n", sess.Status)
	_, _ = fmt.Fprintf(out, "Started:    %s\n", formatTime(sess.StartedAt))
	_, _ = fmt.Fprintf(out, "Ended:      %s\n", formatTime(sess.EndedAt))
	_, _ = fmt.Fprintf(out, "Duration:   %s\n", sess.Duration())
	_, _ = fmt.Fprintf(out, "Readings:   %s\n", humanize.Comma(sess.ReadingCount))
	_, _ = fmt.Fprintf(out, "Distance:   %s\n", formatDistance(sess.DistanceMeters))
	_, _ = fmt.Fprintf(out, "Max speed:  %s km/h\n", humanize.FtoaWithDigits(sess.MaxSpeed*3.6, 1))
	_, _ = fmt.Fprintf(out, "Imported:   %s\n", humanize.Time(sess.CreatedAt))
	return nil
}

func runSessionsExport(ctx context.Context, flags *ExportFlags, id string, out, console io.Writer) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session id %q: %w", id, err)
	}
	if _, err := archive.Compression(flags.Compression); err != nil {
		return err
	}
	a, err := openApp(flags.ConfigPath, console, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	sess, err := a.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	readings, err := a.store.Readings(ctx, id)
	if err != nil {
		return err
	}
	n, err := archive.WriteParquet(flags.Out, sess, readings, flags.Compression)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "wrote %d readings of %s to %s\n", n, sess.Origin, flags.Out)
	return nil
}

func sessionRow(s store.Session) []string {
	return []string{
		s.ID,
		s.Origin,
		string(s.Status),
		formatTime(s.StartedAt),
		s.Duration().String(),
		strconv.FormatInt(s.ReadingCount, 10),
		formatDistance(s.DistanceMeters),
		humanize.FtoaWithDigits(s.MaxSpeed*3.6, 1) + " km/h",
	}
}
