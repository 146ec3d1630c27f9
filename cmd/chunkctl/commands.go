package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"ChunkVault/pkg/transfer"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func uploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <key> <path>",
		Short: "Upload a file under a new key.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.upload(cmd.Context(), cmd.OutOrStdout(), args[0], args[1])
		},
	}
}

func readCmd(a *app) *cobra.Command {
	var allowGaps bool
	cmd := &cobra.Command{
		Use:   "read <key>",
		Short: "Reassemble a key into <output-dir>/<key>.dat.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.read(cmd.Context(), cmd.OutOrStdout(), args[0], transfer.ReadOptions{AllowGaps: allowGaps})
		},
	}
	cmd.Flags().BoolVar(&allowGaps, "allow-gaps", false, "write whatever chunks are present instead of failing on a gap")
	return cmd
}

func deleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"rm"},
		Short:   "Delete a key and its chunks.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.delete(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func listCmd(a *app) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored keys.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if long {
				return a.listLong(cmd.Context(), cmd.OutOrStdout())
			}
			return a.listKeys(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show size, chunks, status and upload time")
	return cmd
}

func reconcileCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair records and chunks left behind by interrupted uploads and deletes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.orch.Reconcile(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without changing anything")
	return cmd
}

func (a *app) upload(ctx context.Context, w io.Writer, key, path string) error {
	res, err := a.orch.Upload(ctx, key, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "File uploaded in %d chunks successfully. Time taken: %s seconds\n", res.Chunks, seconds(res.Elapsed))
	return nil
}

func (a *app) read(ctx context.Context, w io.Writer, key string, opts transfer.ReadOptions) error {
	res, err := a.orch.Read(ctx, key, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Value retrieved successfully. Total chunks: %d. Time taken: %s seconds\n", res.Chunks, seconds(res.Elapsed))
	if len(res.Skipped) > 0 {
		fmt.Fprintf(w, "Missing chunks skipped: %v\n", res.Skipped)
	}
	fmt.Fprintf(w, "Value saved as file: %s\n", res.Path)
	return nil
}

func (a *app) delete(ctx context.Context, w io.Writer, key string) error {
	res, err := a.orch.Delete(ctx, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "All data associated with key '%s' deleted. Chunks removed: %d\n", key, res.ChunksRemoved)
	return nil
}

func (a *app) listKeys(ctx context.Context, w io.Writer) error {
	recs, err := a.orch.List(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "No keys stored.")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintln(w, r.Key)
	}
	return nil
}

func (a *app) listLong(ctx context.Context, w io.Writer) error {
	recs, err := a.orch.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tCHUNKS\tSTATUS\tUPLOADED\tCONTAINER\tFILENAME")
	for _, r := range recs {
		chunks := "?"
		if r.ChunkCount > 0 {
			chunks = strconv.Itoa(r.ChunkCount)
		}
		status := string(r.Status)
		if status == "" {
			status = "committed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s/%s\t%s\n", r.Key, humanize.IBytes(uint64(r.Size)), chunks, status,
			humanize.Time(r.UploadTime.Time), r.Pool, r.Container, r.Filename)
	}
	return tw.Flush()
}

func printReport(w io.Writer, rep *transfer.ReconcileReport) {
	verb := "repaired"
	if rep.DryRun {
		verb = "would repair"
	}
	fmt.Fprintf(w, "Checked %s records (%s):\n", humanize.Comma(int64(rep.Checked)), verb)
	fmt.Fprintf(w, "  orphan records:   %d %v\n", len(rep.OrphanRecords), rep.OrphanRecords)
	fmt.Fprintf(w, "  committed:        %d %v\n", len(rep.Committed), rep.Committed)
	fmt.Fprintf(w, "  finished deletes: %d %v\n", len(rep.FinishedDeletes), rep.FinishedDeletes)
	fmt.Fprintf(w, "  orphan chunks:    %d\n", rep.OrphanChunks)
	if len(rep.Incomplete) > 0 {
		fmt.Fprintf(w, "Incomplete, left as is: %v\n", rep.Incomplete)
	}
	if len(rep.InFlight) > 0 {
		fmt.Fprintf(w, "Uploads still in flight: %v\n", rep.InFlight)
	}
	if len(rep.Unreachable) > 0 {
		fmt.Fprintf(w, "Unreachable containers: %v\n", rep.Unreachable)
	}
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}

// describe turns an orchestrator error into the message the shell prints.
func describe(op, key string, err error) string {
	switch {
	case errors.Is(err, transfer.ErrNothingToDelete):
		return fmt.Sprintf("Key '%s' not found in the data.", key)
	case errors.Is(err, transfer.ErrOrphanMetadata):
		return fmt.Sprintf("Key '%s' has a record but no chunks. Run reconcile to clean it up.", key)
	case errors.Is(err, transfer.ErrKeyNotFound):
		return "Key not found."
	case errors.Is(err, transfer.ErrFileNotFound):
		return "File not found."
	case errors.Is(err, transfer.ErrKeyExists):
		return fmt.Sprintf("Key '%s' already exists. Delete it first.", key)
	default:
		return fmt.Sprintf("Error %s key: %v", op, err)
	}
}
