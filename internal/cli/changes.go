package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"coordsync/internal/changelog"
)

// ChangesOptions holds flags for the changes command.
type ChangesOptions struct {
	*RootOptions
	Collection string
	From       int64
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Print the change log of a collection",
		Long: `Print the change log of a collection from the configured store.

Example:
  coordsync changes --collection messages
  coordsync changes --collection messages --from 40 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := changelog.Open(cfg.ChangeLogDriver, cfg.ChangeLogDSN)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open change log", err)
			}
			defer store.Close()

			changes, err := store.Since(cmd.Context(), opts.Collection, opts.From)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read change log", err)
			}
			return printer{opts.Format, cmd.OutOrStdout()}.print(changes, func(w io.Writer) error {
				for _, c := range changes {
					if _, err := fmt.Fprintf(w, "%d\t%s\t%d\n", c.Index, c.Type, c.ExternalID); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Collection, "collection", "messages", "collection name")
	cmd.Flags().Int64Var(&opts.From, "from", 0, "print changes with an index above this one")

	return cmd
}
