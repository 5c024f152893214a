package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"coordsync/internal/adapter"
)

// RecordsOptions holds flags shared by the records subcommands.
type RecordsOptions struct {
	*RootOptions
	DataPath   string
	Collection string
}

// NewRecordsCommand creates the records command. Its subcommands edit the
// local records database; a running node replicates the edits.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List and edit local records",
	}
	cmd.PersistentFlags().StringVar(&opts.DataPath, "data", DefaultDataPath, "path to the SQLite records database")
	cmd.PersistentFlags().StringVar(&opts.Collection, "collection", "messages", "collection name")

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "Print replicated records",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSource(func(src *adapter.SQLSource) error {
				recs, err := src.Records(cmd.Context(), 1, 0)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list records", err)
				}
				return printer{opts.Format, cmd.OutOrStdout()}.print(recs, func(w io.Writer) error {
					for _, r := range recs {
						if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", r.ExternalID, r.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"), r.Data); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "add <json>",
		Short:         "Queue a new record",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := jsonArg(args[0])
			if err != nil {
				return err
			}
			return opts.withSource(func(src *adapter.SQLSource) error {
				localID, err := src.Add(cmd.Context(), data)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to add record", err)
				}
				return printer{opts.Format, cmd.OutOrStdout()}.print(map[string]int64{"localId": localID}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "queued local record %d\n", localID)
					return err
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "edit <id> <json>",
		Short:         "Queue an update of a replicated record",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args[0])
			if err != nil {
				return err
			}
			data, err := jsonArg(args[1])
			if err != nil {
				return err
			}
			return opts.withSource(func(src *adapter.SQLSource) error {
				if err := src.Edit(cmd.Context(), id, data); err != nil {
					return WrapExitError(ExitFailure, "failed to edit record", err)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "rm <id>",
		Short:         "Queue a delete of a replicated record",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args[0])
			if err != nil {
				return err
			}
			return opts.withSource(func(src *adapter.SQLSource) error {
				if err := src.Remove(cmd.Context(), id); err != nil {
					return WrapExitError(ExitFailure, "failed to remove record", err)
				}
				return nil
			})
		},
	})

	return cmd
}

func (o *RecordsOptions) withSource(fn func(src *adapter.SQLSource) error) error {
	db, err := openData(o.DataPath)
	if err != nil {
		return err
	}
	defer db.Close()

	src, err := adapter.NewSQLSource(db, o.Collection)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare collection", err)
	}
	return fn(src)
}

func jsonArg(s string) (json.RawMessage, error) {
	if !json.Valid([]byte(s)) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("not valid JSON: %s", s))
	}
	return json.RawMessage(s), nil
}

func idArg(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid record id %q", s))
	}
	return id, nil
}
