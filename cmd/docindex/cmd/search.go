package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docindex/internal/output"
	"github.com/Aman-CERP/docindex/internal/store"
)

// searchHit is the JSON form of one result.
type searchHit struct {
	Collection string `json:"collection"`
	store.Element
}

func newSearchCmd() *cobra.Command {
	var (
		collection string
		mode       string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored elements",
		Long: `Search the knowledge store. Without --collection every collection is
searched and up to --limit hits are shown from each.

Modes:
  keyword  full-text ranking
  vector   embedding similarity
  hybrid   both, merged by element id (default)`,
		Example: `  docindex search "quarterly revenue"
  docindex search revenue --collection TableCollection --mode keyword --limit 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			searchMode, err := store.ParseSearchMode(mode)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			collections := store.Collections()
			if collection != "" {
				collections = []string{collection}
			}

			var hits []searchHit
			for _, name := range collections {
				els, err := a.store.Search(ctx, query, name, searchMode, limit)
				if err != nil {
					return err
				}
				for _, el := range els {
					hits = append(hits, searchHit{Collection: name, Element: el})
				}
			}

			if jsonOutput {
				if hits == nil {
					hits = []searchHit{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(hits)
			}

			out := output.New(cmd.OutOrStdout())
			if len(hits) == 0 {
				out.Status("", fmt.Sprintf("No results found for: %s", query))
				return nil
			}
			out.Header(fmt.Sprintf("Results for: %s (%s)", query, searchMode))
			for i, h := range hits {
				out.Hit(i+1, h.Collection, h.Element)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection to search (default: all)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "hybrid", "Search mode: keyword, vector or hybrid")
	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultSearchLimit, "Maximum results per collection")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	return cmd
}
