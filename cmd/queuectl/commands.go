package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"rollcall/internal/export"
	"rollcall/internal/models"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending tasks in send order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, repo, closeFn, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		loc, err := cfg.Sync.Location()
		if err != nil {
			return err
		}

		tasks, err := repo.LoadQueue(cmd.Context())
		if err != nil {
			return fmt.Errorf("load queue: %w", err)
		}

		return writeTaskTable(cmd.OutOrStdout(), tasks, loc)
	},
}

// writeTaskTable prints tasks in send order with the time of the attendance event.
func writeTaskTable(out io.Writer, tasks []models.SyncTask, loc *time.Location) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTUDENT\tSTATUS\tEVENT AT")
	for _, t := range tasks {
		student, _ := t.Data.Get(models.FieldStudentID)
		status, _ := t.Data.Get(models.FieldStatus)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, student, status, time.UnixMilli(t.Timestamp).In(loc).Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d pending\n", len(tasks))
	return err
}

var tombstonesCmd = &cobra.Command{
	Use:   "tombstones",
	Short: "List deleted record ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, repo, closeFn, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		ids, err := repo.LoadTombstones(cmd.Context())
		if err != nil {
			return fmt.Errorf("load tombstones: %w", err)
		}
		if len(ids) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(ids, "\n"))
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write pending tasks to an xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, repo, closeFn, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Exports.Path
		}
		if dir == "" {
			dir = "."
		}

		loc, err := cfg.Sync.Location()
		if err != nil {
			return err
		}

		tasks, err := repo.LoadQueue(cmd.Context())
		if err != nil {
			return fmt.Errorf("load queue: %w", err)
		}
		if len(tasks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "queue is empty, nothing to export")
			return nil
		}

		path, err := export.WriteUnsynced(dir, tasks, loc, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d tasks to %s\n", len(tasks), path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("dir", "d", "", "Output directory (defaults to exports.path)")

	rootCmd.AddCommand(listCmd, tombstonesCmd, exportCmd)
}
