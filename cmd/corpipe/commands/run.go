package commands

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/corpipe/am"
	"github.com/teranos/corpipe/display"
	"github.com/teranos/corpipe/docstore"
	"github.com/teranos/corpipe/errors"
	"github.com/teranos/corpipe/pipeline"
	"github.com/teranos/corpipe/sym"
)

// RunCmd runs a stage chain over one document
var RunCmd = &cobra.Command{
	Use:   "run [stage...]",
	Short: sym.Chain + " Run a stage chain over one document",
	Long: sym.Chain + ` Run a stage chain over a stored document or ad-hoc text.

Stages are given as words, with optional arguments in name:key=value form.
Results are cached per chain prefix: a stored document run through a chain
it has seen before is answered from the store, and a longer chain resumes
from the longest cached prefix.

Text is read from --input-file or stdin unless --id names a stored
document. Ad-hoc text is never cached unless --cache-adhoc registers it.

Examples:
  corpipe run --id 42 tokenize lowercase      # stored document corpus/article/42
  echo "Dogs bark" | corpipe run tokenize     # ad-hoc text
  corpipe run --id 42 ngrams:n=3 -o out.json
  corpipe run --chain-file chain.yaml --id 42`,
	RunE: runRun,
}

type documentFlags struct {
	id        string
	index     string
	docType   string
	field     string
	inputFile string
}

func (f *documentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.index, "index", "", "Document collection (default documents.index)")
	cmd.Flags().StringVar(&f.docType, "doctype", "", "Document type (default documents.doctype)")
	cmd.Flags().StringVar(&f.field, "field", "", "Field holding the text (default documents.field)")
	cmd.Flags().StringVar(&f.inputFile, "input-file", "", "Read text from a file instead of stdin")
}

// resolve fills unset flags from the configuration
func (f documentFlags) resolve(cfg *am.Config) documentFlags {
	if f.index == "" {
		f.index = cfg.Documents.Index
	}
	if f.docType == "" {
		f.docType = cfg.Documents.DocType
	}
	if f.field == "" {
		f.field = cfg.Documents.Field
	}
	return f
}

func (f documentFlags) handle(id string) pipeline.Handle {
	if f.field == "" {
		return pipeline.NewHandle(f.index, f.docType, id)
	}
	return pipeline.NewHandle(f.index, f.docType, id, f.field)
}

func (f documentFlags) readText(stdin io.Reader) (string, error) {
	var data []byte
	var err error
	if f.inputFile != "" {
		data, err = os.ReadFile(f.inputFile)
	} else {
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read input text")
	}
	return string(data), nil
}

var (
	runDoc               documentFlags
	runCacheAdhoc        bool
	runChainFile         string
	runStoreIntermediate bool
	runNoStore           bool
	runSynchronous       bool
	runOutputFile        string
)

func init() {
	runDoc.register(RunCmd)
	RunCmd.Flags().StringVar(&runDoc.id, "id", "", "ID of a stored document")
	RunCmd.Flags().BoolVar(&runCacheAdhoc, "cache-adhoc", false, "Store ad-hoc text as a document so its results are cached")
	RunCmd.Flags().StringVar(&runChainFile, "chain-file", "", "Read the stage chain from a YAML, JSON or TOML file")
	RunCmd.Flags().BoolVar(&runStoreIntermediate, "store-intermediate", false, "Also store the result of every intermediate stage")
	RunCmd.Flags().BoolVar(&runNoStore, "no-store", false, "Do not read or write cached results")
	RunCmd.Flags().BoolVarP(&runSynchronous, "always-run-synchronously", "a", false, "Run stages in this process instead of through the job queue")
	RunCmd.Flags().StringVarP(&runOutputFile, "output-file", "o", "", "Write the result to a file instead of stdout")
}

// stageRefs reads the chain from --chain-file, the arguments or the
// configured default, in that order
func stageRefs(cfg *am.Config, chainFile string, args []string) ([]pipeline.StageRef, error) {
	switch {
	case chainFile != "":
		return pipeline.LoadStageRefsFile(chainFile)
	case len(args) > 0:
		return pipeline.ParseStageWords(args)
	case strings.TrimSpace(cfg.Pipeline.DefaultStages) != "":
		return pipeline.ParseStageRefs(cfg.Pipeline.DefaultStages)
	}
	return nil, errors.WithHint(
		errors.NewConfigurationError("no stages given"),
		"list stages as arguments, pass --chain-file or set pipeline.default_stages")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	refs, err := stageRefs(rt.cfg, runChainFile, args)
	if err != nil {
		return err
	}

	doc, err := runDocument(ctx, rt, runDoc.resolve(rt.cfg), runCacheAdhoc, cmd.InOrStdin())
	if err != nil {
		return err
	}

	p, stop, err := rt.newPipeline(ctx, pipelineOptions{
		Synchronous: runSynchronous,
		NoStore:     runNoStore,
		StartPool:   true,
	})
	if err != nil {
		return err
	}
	defer stop()

	opts := rt.runOptions()
	opts.StoreIntermediate = opts.StoreIntermediate || runStoreIntermediate
	if runNoStore {
		opts.StoreFinal, opts.StoreIntermediate = false, false
	}

	results, err := p.Run(ctx, []pipeline.Document{doc}, refs, opts)
	if err != nil {
		return err
	}
	outcome := results[doc.Key(0)]
	return writeOutcome(cmd.OutOrStdout(), runOutputFile, outcome)
}

// runDocument builds the document to run from flags and input
func runDocument(ctx context.Context, rt *runtime, flags documentFlags, cacheAdhoc bool, stdin io.Reader) (pipeline.Document, error) {
	if flags.id != "" {
		return pipeline.Ref(flags.handle(flags.id)), nil
	}

	text, err := flags.readText(stdin)
	if err != nil {
		return pipeline.Document{}, err
	}
	if !cacheAdhoc {
		return pipeline.Text(text), nil
	}

	h, err := docstore.Register(ctx, rt.writer, flags.index, flags.docType, flags.field, text)
	if err != nil {
		return pipeline.Document{}, err
	}
	rt.logger.Infow(sym.Doc+" Registered ad-hoc text", "document", h.Key())
	return pipeline.Ref(h), nil
}

// writeOutcome prints the value of a successful run or the failure of a
// failed one. A failed run returns an error so the process exits non-zero.
func writeOutcome(w io.Writer, outputFile string, outcome pipeline.Outcome) error {
	var v interface{} = outcome
	if outcome.State == pipeline.StateSucceeded || outcome.State == pipeline.StateCached {
		v = outcome.Value
	}

	if outputFile != "" {
		if err := display.WriteJSONFile(outputFile, v); err != nil {
			return err
		}
	} else if err := display.WriteJSON(w, v); err != nil {
		return err
	}

	switch outcome.State {
	case pipeline.StateFailed:
		return errors.Newf("run failed: %s", outcome.Failure.Error())
	case pipeline.StatePending:
		pterm.Info.Printfln("Job %s queued; check it with: corpipe jobs wait %s", outcome.JobID, outcome.JobID)
	}
	return nil
}
