package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/corpipe/display"
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/pipeline"
	"github.com/teranos/corpipe/store"
	"github.com/teranos/corpipe/sym"
)

// ResultsCmd lists stored results
var ResultsCmd = &cobra.Command{
	Use:   "results <index> [<type> <id>]",
	Short: sym.Cache + " List stored results",
	Long: sym.Cache + ` List the results stored for one document, one row per chain
fingerprint. With only an index, list the result groups of that collection
with the number of results in each.

Examples:
  corpipe results corpus                 # result groups of corpus
  corpipe results corpus article 42      # fingerprints stored for one document
  corpipe results corpus article 42 --fingerprint tokenize__lowercase
  corpipe results corpus article 42 --fingerprint tokenize --delete`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 && len(args) != 3 {
			return errors.New("expected <index> or <index> <type> <id>")
		}
		if resultsDelete && (len(args) != 3 || resultsFingerprint == "") {
			return errors.New("--delete needs <index> <type> <id> and --fingerprint")
		}
		return nil
	},
	RunE: runResults,
}

var (
	resultsFingerprint string
	resultsDelete      bool
)

func init() {
	ResultsCmd.Flags().StringVar(&resultsFingerprint, "fingerprint", "", "Print the stored value at one fingerprint")
	ResultsCmd.Flags().BoolVar(&resultsDelete, "delete", false, "Delete the result at --fingerprint so the next run recomputes it")
}

func runResults(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		groups, err := rt.results.Groups(ctx, args[0])
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.WriteJSON(out, groups)
		}
		total, err := rt.results.Count(ctx, args[0])
		if err != nil {
			return err
		}
		for _, g := range groups {
			fmt.Fprintf(out, "%s/%s  %s  %d results\n", g.Index, g.Type, g.Fingerprint, g.Results)
		}
		fmt.Fprintf(out, "%d results stored in %s\n", total, args[0])
		return nil
	}

	doc := pipeline.NewHandle(args[0], args[1], args[2])
	if resultsDelete {
		if err := rt.deleteResult(ctx, doc, resultsFingerprint); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %s at %s\n", doc.Key(), resultsFingerprint)
		return nil
	}
	if resultsFingerprint != "" {
		stored, err := rt.results.Get(ctx, doc, resultsFingerprint)
		if err != nil {
			return err
		}
		return display.WriteJSON(out, stored.Data)
	}

	stored, err := rt.results.List(ctx, doc)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.WriteJSON(out, stored)
	}
	if len(stored) == 0 {
		fmt.Fprintf(out, "No results stored for %s\n", doc.Key())
		return nil
	}
	table, err := display.StoredResultsTable(stored)
	if err != nil {
		return err
	}
	fmt.Fprint(out, table)
	return nil
}

// deleteResult goes through the cache when there is one, so Redis drops
// its copy too
func (rt *runtime) deleteResult(ctx context.Context, doc pipeline.Handle, fingerprint string) error {
	deleter, ok := rt.cache.(store.Deleter)
	if !ok {
		deleter = rt.results
	}
	return deleter.Delete(ctx, doc, fingerprint)
}
