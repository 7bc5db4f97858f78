package cli

import (
	"encoding/json"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ahrav/curation-progress/internal/domain/progress"
)

func newWatchCmd(opts *options) *cobra.Command {
	var (
		taskIDs   []string
		untilDone bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live task updates",
		Long: `Stream live task updates until interrupted. Updates published before the
connection opened are not replayed; use "tasks get" for current state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			pending := slices.Clone(taskIDs)
			enc := json.NewEncoder(out)

			return opts.client().Watch(cmd.Context(), func(u progress.Update) error {
				if len(taskIDs) > 0 && !slices.Contains(taskIDs, u.TaskID) {
					return nil
				}

				if opts.output == FormatTable {
					writeUpdateLine(out, u)
				} else if err := enc.Encode(u); err != nil {
					return err
				}

				if untilDone && u.Type != progress.UpdateTaskProgress {
					pending = slices.DeleteFunc(pending, func(id string) bool { return id == u.TaskID })
					if len(pending) == 0 {
						return errStopWatching
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&taskIDs, "task", nil, "only show updates for these task ids")
	cmd.Flags().BoolVar(&untilDone, "until-done", false, "exit once every --task has completed or failed")
	return cmd
}
