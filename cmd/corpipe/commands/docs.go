package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/corpipe/display"
	"github.com/teranos/corpipe/docstore"
	"github.com/teranos/corpipe/sym"
)

// DocsCmd manages source documents
var DocsCmd = &cobra.Command{
	Use:   "docs",
	Short: sym.Doc + " Manage source documents",
	Long: sym.Doc + ` Load and inspect the documents stages run over.

Examples:
  corpipe docs add 42 --input-file article.txt     # corpus/article/42
  cat note.txt | corpipe docs add --doctype note   # ID derived from the text
  corpipe docs show 42
  corpipe docs ls --doctype note`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var docsAddCmd = &cobra.Command{
	Use:   "add [id]",
	Short: "Add a document",
	Long:  "Add a document with one text field. Without an ID, the ID is the base58 SHA-256 of the text.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDocsAdd,
}

var docsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a document's fields",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsShow,
}

var docsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List document IDs of one type",
	RunE:  runDocsLs,
}

var (
	docsFlags documentFlags
	docsLimit int
)

func init() {
	for _, c := range []*cobra.Command{docsAddCmd, docsShowCmd, docsLsCmd} {
		docsFlags.register(c)
	}
	docsLsCmd.Flags().IntVar(&docsLimit, "limit", 0, "List at most this many documents (0 = all)")

	DocsCmd.AddCommand(docsAddCmd)
	DocsCmd.AddCommand(docsShowCmd)
	DocsCmd.AddCommand(docsLsCmd)
}

func runDocsAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	flags := docsFlags.resolve(rt.cfg)
	text, err := flags.readText(cmd.InOrStdin())
	if err != nil {
		return err
	}

	if len(args) == 0 {
		h, err := docstore.Register(ctx, rt.writer, flags.index, flags.docType, flags.field, text)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), h.ID)
		return nil
	}

	h := flags.handle(args[0])
	if err := rt.writer.AddDocument(ctx, h, map[string]string{flags.field: text}); err != nil {
		return err
	}
	pterm.Success.Printfln("Added %s", h.Key())
	return nil
}

func runDocsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	fields, err := rt.source.Fields(ctx, docsFlags.resolve(rt.cfg).handle(args[0]))
	if err != nil {
		return err
	}
	return display.WriteJSON(cmd.OutOrStdout(), fields)
}

func runDocsLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	flags := docsFlags.resolve(rt.cfg)
	handles, err := rt.lister.Handles(ctx, flags.index, flags.docType, "", docsLimit)
	if err != nil {
		return err
	}
	for _, h := range handles {
		fmt.Fprintln(cmd.OutOrStdout(), h.ID)
	}
	return nil
}
