package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maastricht-university/viva-pipeline/clients"
	cfg "github.com/maastricht-university/viva-pipeline/config"
	"github.com/maastricht-university/viva-pipeline/knowledge"
	"github.com/maastricht-university/viva-pipeline/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "viva",
	Short:         "Voice mock-interview pipeline",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default config/$CONFIG_ENV/config.yaml or config.yaml)")
	rootCmd.AddCommand(serveCmd, indexCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*cfg.Root, *logrus.Logger, error) {
	conf, err := cfg.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(conf.Pipeline.LogLvl, conf.Pipeline.LogFormat)
	return conf, log, nil
}

// languageModel is a provider serving both generation and embeddings.
type languageModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
	knowledge.Embedder
}

func newLanguageModel(ctx context.Context, conf *cfg.Root, h *clients.HTTP) (languageModel, error) {
	l := conf.Services.LLM
	switch l.Provider {
	case "gemini":
		g, err := clients.NewGemini(ctx, l.APIKey, l.Model, l.EmbedModel, l.Temperature, l.TopP)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return clients.NewOllama(h, l.URL, l.Model, l.EmbedModel, l.Temperature, l.TopP), nil
	}
}

func newEmbedder(conf *cfg.Root, lm languageModel) knowledge.Embedder {
	if conf.Knowledge.Embedder == "llm" {
		return lm
	}
	return knowledge.NewHashEmbedder(conf.Knowledge.Dims)
}

func knowledgeOptions(conf *cfg.Root, log logrus.FieldLogger) knowledge.Options {
	return knowledge.Options{
		ChunkSize:    conf.Knowledge.ChunkSize,
		ChunkOverlap: conf.Knowledge.ChunkOverlap,
		Workers:      conf.Knowledge.Workers,
		PersistPath:  conf.Knowledge.PersistPath,
		Log:          logging.Component(log, "knowledge"),
	}
}
