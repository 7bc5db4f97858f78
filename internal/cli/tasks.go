package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ahrav/curation-progress/internal/api/routes/tasks"
)

func newTasksCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Work with curation tasks",
	}
	cmd.AddCommand(
		newListCmd(opts),
		newGetCmd(opts),
		newRetryCmd(opts),
		newDeleteCmd(opts),
	)
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.client().List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list tasks: %w", err)
			}
			if opts.output != FormatTable {
				return writeStructured(cmd.OutOrStdout(), opts.output, list)
			}
			return writeTaskTable(cmd.OutOrStdout(), list.Tasks, opts.now())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of tasks (server default when 0)")
	return cmd
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get TASK_ID",
		Short: "Show one task with its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := opts.client().Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get task: %w", err)
			}
			if opts.output != FormatTable {
				return writeStructured(cmd.OutOrStdout(), opts.output, task)
			}
			return writeTaskDetail(cmd.OutOrStdout(), task, opts.now())
		},
	}
}

func newRetryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "retry TASK_ID",
		Short: "Re-queue a task from its cached input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Retry(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to retry task: %w", err)
			}
			if opts.output != FormatTable {
				return writeStructured(cmd.OutOrStdout(), opts.output, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n",
				successStyle.Render("queued"), resp.OriginalTaskID, resp.NewTaskID)
			return nil
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete TASK_ID",
		Short: "Delete a task and its cached input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete task: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newSubmitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "submit FILE...",
		Short: "Upload files for curation",
		Long:  `Upload one or more files. Each file becomes its own task, labelled with its base name.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := make([]tasks.File, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				files = append(files, tasks.File{Label: filepath.Base(path), FileData: data})
			}

			resp, err := opts.client().Submit(cmd.Context(), files)
			if err != nil {
				return fmt.Errorf("failed to submit files: %w", err)
			}
			if opts.output != FormatTable {
				return writeStructured(cmd.OutOrStdout(), opts.output, resp)
			}
			for _, t := range resp.Tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%s\n", successStyle.Render("queued"), t.TaskID, t.Label)
			}
			return nil
		},
	}
}
