package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/output"
)

func newCollectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"coll"},
		Short:   "List, create or delete collections",
		Long: `Manage the three collections docindex stores elements in:
TableCollection, ImageCollection and LabelCollection.

All three are created when the store is opened, so create is only needed
after a delete.`,
	}
	cmd.AddCommand(newCollectionsListCmd())
	cmd.AddCommand(newCollectionsCreateCmd())
	cmd.AddCommand(newCollectionsDeleteCmd())
	return cmd
}

func newCollectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List existing collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			names, err := a.store.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.Header("Collections (" + a.store.Backend() + ")")
			if len(names) == 0 {
				out.Status("", "none")
			}
			for _, name := range names {
				out.Status("", name)
			}
			return nil
		},
	}
}

func newCollectionsCreateCmd() *cobra.Command {
	var existOK bool

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.store.CreateCollection(cmd.Context(), args[0], existOK); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Collection %s ready", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&existOK, "exist-ok", false, "Succeed if the collection already exists")
	return cmd
}

func newCollectionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a collection and all its elements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.store.DeleteCollection(cmd.Context(), args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Deleted collection %s", args[0])
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete one element",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.store.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Deleted %s from %s", args[1], args[0])
			return nil
		},
	}
}
