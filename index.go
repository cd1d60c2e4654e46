package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maastricht-university/viva-pipeline/clients"
	"github.com/maastricht-university/viva-pipeline/knowledge"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build or query the knowledge index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build [corpus_dir]",
	Short: "Chunk, embed and persist the corpus",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, log, err := setup()
		if err != nil {
			return err
		}
		dir := conf.Knowledge.CorpusDir
		if len(args) == 1 {
			dir = args[0]
		}
		lm, err := newLanguageModel(cmd.Context(), conf, clients.NewHTTP())
		if err != nil {
			return err
		}
		idx, err := knowledge.Build(cmd.Context(), dir, newEmbedder(conf, lm), knowledgeOptions(conf, log))
		if err != nil && !errors.Is(err, knowledge.ErrEmptyCorpus) {
			return err
		}
		out := cmd.OutOrStdout()
		if errors.Is(err, knowledge.ErrEmptyCorpus) {
			fmt.Fprintf(out, "corpus %s is empty, nothing persisted\n", dir)
			return nil
		}
		fmt.Fprintf(out, "indexed %d chunks from %s into %s\n", idx.Len(), dir, conf.Knowledge.PersistPath)
		return nil
	},
}

var topK int

var indexQueryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Show the chunks most similar to text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, _, err := setup()
		if err != nil {
			return err
		}
		lm, err := newLanguageModel(cmd.Context(), conf, clients.NewHTTP())
		if err != nil {
			return err
		}
		idx, err := knowledge.Load(cmd.Context(), conf.Knowledge.PersistPath, newEmbedder(conf, lm))
		if err != nil {
			return err
		}
		k := topK
		if k <= 0 {
			k = conf.Knowledge.TopK
		}
		matches, err := idx.Query(cmd.Context(), args[0], k)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, m := range matches {
			fmt.Fprintf(out, "%d. %.3f %s#%d\n   %s\n", i+1, m.Score, m.Source, m.Ordinal, m.Text)
		}
		if len(matches) == 0 {
			fmt.Fprintln(out, "no matches")
		}
		return nil
	},
}

func init() {
	indexQueryCmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of matches (default knowledge.top_k)")
	indexCmd.AddCommand(indexBuildCmd, indexQueryCmd)
}
