package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/corpipe/display"
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/pipeline"
	"github.com/teranos/corpipe/sym"
)

// BatchCmd runs a stage chain over many stored documents
var BatchCmd = &cobra.Command{
	Use:   "batch [stage...]",
	Short: sym.Chain + " Run a stage chain over a collection",
	Long: sym.Chain + ` Run a stage chain over every document of one type, or over
the documents named by --ids.

Documents with a cached result are answered from the store; the rest are
submitted as one job each. With --wait=false the jobs are only queued and
a running 'corpipe pulse start' picks them up.

Examples:
  corpipe batch --doctype article tokenize lowercase
  corpipe batch --ids 1,2,3 tokenize --json
  corpipe batch --limit 100 --wait=false tokenize frequency:top=20`,
	RunE: runBatch,
}

var (
	batchDoc        documentFlags
	batchIDs        []string
	batchLimit      int
	batchWait       bool
	batchChainFile  string
	batchSync       bool
	batchNoStore    bool
	batchIntermed   bool
	batchOutputFile string
)

func init() {
	batchDoc.register(BatchCmd)
	BatchCmd.Flags().StringSliceVar(&batchIDs, "ids", nil, "Document IDs (default: every document of the type)")
	BatchCmd.Flags().IntVar(&batchLimit, "limit", 0, "Process at most this many documents (0 = all)")
	BatchCmd.Flags().BoolVar(&batchWait, "wait", true, "Wait for the documents to finish")
	BatchCmd.Flags().StringVar(&batchChainFile, "chain-file", "", "Read the stage chain from a YAML, JSON or TOML file")
	BatchCmd.Flags().BoolVarP(&batchSync, "always-run-synchronously", "a", false, "Run stages in this process instead of through the job queue")
	BatchCmd.Flags().BoolVar(&batchNoStore, "no-store", false, "Do not read or write cached results")
	BatchCmd.Flags().BoolVar(&batchIntermed, "store-intermediate", false, "Also store the result of every intermediate stage")
	BatchCmd.Flags().StringVarP(&batchOutputFile, "output-file", "o", "", "Write all outcomes as JSON to a file")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	refs, err := stageRefs(rt.cfg, batchChainFile, args)
	if err != nil {
		return err
	}

	docs, err := batchDocuments(ctx, rt, batchDoc.resolve(rt.cfg), batchIDs, batchLimit)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		pterm.Warning.Println("No documents to process")
		return nil
	}

	if batchSync && !batchWait {
		return errors.NewConfigurationError("--wait=false needs the job queue; drop --always-run-synchronously")
	}
	p, stop, err := rt.newPipeline(ctx, pipelineOptions{
		Synchronous: batchSync,
		NoStore:     batchNoStore,
		StartPool:   batchWait,
	})
	if err != nil {
		return err
	}
	defer stop()

	opts := rt.runOptions()
	opts.Blocking = batchWait
	opts.StoreIntermediate = opts.StoreIntermediate || batchIntermed
	if batchNoStore {
		opts.StoreFinal, opts.StoreIntermediate = false, false
	}

	results, err := p.Run(ctx, docs, refs, opts)
	if err != nil {
		return err
	}

	if batchOutputFile != "" {
		if err := display.WriteJSONFile(batchOutputFile, results); err != nil {
			return err
		}
	}
	if display.ShouldOutputJSON(cmd) {
		if err := display.WriteJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		table, err := display.ResultsTable(results)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), table)
		pterm.Info.Println(display.ResultsSummary(results))
	}

	if failed := results.Failed(); len(failed) > 0 {
		return errors.Newf("%d of %d documents failed", len(failed), len(results))
	}
	return nil
}

// batchDocuments lists the documents to run: the given IDs, or every
// document of the type
func batchDocuments(ctx context.Context, rt *runtime, flags documentFlags, ids []string, limit int) ([]pipeline.Document, error) {
	var handles []pipeline.Handle
	if len(ids) > 0 {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				handles = append(handles, flags.handle(id))
			}
		}
		if limit > 0 && len(handles) > limit {
			handles = handles[:limit]
		}
	} else {
		var err error
		handles, err = rt.lister.Handles(ctx, flags.index, flags.docType, flags.field, limit)
		if err != nil {
			return nil, err
		}
	}

	docs := make([]pipeline.Document, len(handles))
	for i, h := range handles {
		docs[i] = pipeline.Ref(h)
	}
	return docs, nil
}
