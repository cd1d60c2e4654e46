package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maastricht-university/viva-pipeline/clients"
	"github.com/maastricht-university/viva-pipeline/dialogue"
	"github.com/maastricht-university/viva-pipeline/knowledge"
	"github.com/maastricht-university/viva-pipeline/logging"
	"github.com/maastricht-university/viva-pipeline/orchestrator"
	"github.com/maastricht-university/viva-pipeline/scoring"
	"github.com/maastricht-university/viva-pipeline/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interview HTTP and websocket server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	conf, log, err := setup()
	if err != nil {
		return err
	}
	svc := conf.Services
	if svc.STT.URL == "" {
		return fmt.Errorf("services.stt.url is not set")
	}
	if svc.TTS.URL == "" {
		return fmt.Errorf("services.tts.url is not set")
	}

	h := clients.NewHTTP()
	lm, err := newLanguageModel(ctx, conf, h)
	if err != nil {
		return err
	}

	idx, err := knowledge.LoadOrBuild(ctx, conf.Knowledge.CorpusDir, newEmbedder(conf, lm), knowledgeOptions(conf, log))
	switch {
	case errors.Is(err, knowledge.ErrEmptyCorpus):
		log.WithField("corpus_dir", conf.Knowledge.CorpusDir).Warn("knowledge base is empty, replies are ungrounded")
	case err != nil:
		return fmt.Errorf("knowledge index: %w", err)
	}

	bank := dialogue.DefaultBank()
	if conf.Dialogue.QuestionBank != "" {
		if bank, err = dialogue.LoadQuestionBank(conf.Dialogue.QuestionBank); err != nil {
			return err
		}
	}
	engine := dialogue.New(lm, idx, dialogue.Options{
		TopK:            conf.Knowledge.TopK,
		MaxContextChars: conf.Dialogue.MaxContextChars,
		Bank:            bank,
		Log:             log,
	})

	var scorer scoring.Scorer = scoring.NewHeuristic()
	if conf.Session.Scorer == "model" {
		scorer = scoring.NewModel(lm, logging.Component(log, "scoring"))
	}

	orch := orchestrator.New(orchestrator.Deps{
		STT:      clients.NewSTT(h, svc.STT.URL),
		Dialogue: engine,
		TTS:      clients.NewTTS(h, svc.TTS.URL, svc.TTS.VoiceReference, svc.TTS.Language),
		Scorer:   scorer,
		Log:      log,
	}, orchestrator.Options{
		Language:           svc.STT.Language,
		MemoryWindow:       conf.Session.MemoryWindow,
		Stream:             svc.TTS.Stream,
		ScoreMode:          orchestrator.ScoreMode(conf.Session.ScoreMode),
		TTL:                conf.Session.TTL,
		CompletedRetention: conf.Session.CompletedRetention,
		MaxSessions:        conf.Session.MaxSessions,
		ReapInterval:       conf.Session.ReapInterval,
		Outputs:            conf.Paths.Outputs,
	})
	go orch.Run(ctx)

	srv := &http.Server{
		Addr: conf.Server.Addr,
		Handler: server.New(orch, server.Options{
			MaxAudioBytes:   conf.Server.MaxAudioBytes,
			WriteTimeout:    conf.Server.WriteTimeout,
			KnowledgeChunks: idx.Len(),
			Services: map[string]string{
				"stt": svc.STT.URL,
				"tts": svc.TTS.URL,
				"llm": svc.LLM.Provider + ":" + svc.LLM.Model,
			},
			Log: log,
		}).Handler(),
	}

	errc := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "chunks": idx.Len()}).Info("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
