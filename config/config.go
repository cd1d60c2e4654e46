package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Service struct {
	URL string `mapstructure:"url"`
}

type STT struct {
	Service  `mapstructure:",squash"`
	Language string `mapstructure:"language"`
}

type TTS struct {
	Service        `mapstructure:",squash"`
	VoiceReference string `mapstructure:"voice_reference"`
	Language       string `mapstructure:"language"`
	Stream         bool   `mapstructure:"stream"`
}

type LLM struct {
	Provider    string  `mapstructure:"provider"` // "ollama" or "gemini"
	URL         string  `mapstructure:"url"`
	Model       string  `mapstructure:"model"`
	EmbedModel  string  `mapstructure:"embed_model"`
	APIKey      string  `mapstructure:"api_key"`
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
}

type Services struct {
	STT STT `mapstructure:"stt"`
	TTS TTS `mapstructure:"tts"`
	LLM LLM `mapstructure:"llm"`
}

type Knowledge struct {
	CorpusDir    string `mapstructure:"corpus_dir"`
	PersistPath  string `mapstructure:"persist_path"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	TopK         int    `mapstructure:"top_k"`
	Embedder     string `mapstructure:"embedder"` // "hash" or "llm"
	Dims         int    `mapstructure:"dims"`
	Workers      int    `mapstructure:"workers"`
}

type Dialogue struct {
	QuestionBank    string `mapstructure:"question_bank"`
	MaxContextChars int    `mapstructure:"max_context_chars"`
}

type Session struct {
	MemoryWindow       int           `mapstructure:"memory_window"`
	TTL                time.Duration `mapstructure:"ttl"`
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
	MaxSessions        int           `mapstructure:"max_sessions"`
	ReapInterval       time.Duration `mapstructure:"reap_interval"`
	ScoreMode          string        `mapstructure:"score_mode"` // "per_turn" or "batch"
	Scorer             string        `mapstructure:"scorer"`     // "heuristic" or "model"
}

type Root struct {
	Pipeline struct {
		Name      string `mapstructure:"name"`
		Version   string `mapstructure:"version"`
		LogLvl    string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"`
	} `mapstructure:"pipeline"`
	Server struct {
		Addr            string        `mapstructure:"addr"`
		MaxAudioBytes   int64         `mapstructure:"max_audio_bytes"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Services  Services  `mapstructure:"services"`
	Knowledge Knowledge `mapstructure:"knowledge"`
	Dialogue  Dialogue  `mapstructure:"dialogue"`
	Session   Session   `mapstructure:"session"`
	Paths     struct {
		Data    string `mapstructure:"data"`
		Outputs string `mapstructure:"outputs"`
	} `mapstructure:"paths"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.name", "viva")
	v.SetDefault("pipeline.version", "0.1.0")
	v.SetDefault("pipeline.log_level", "info")
	v.SetDefault("pipeline.log_format", "text")

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.max_audio_bytes", 8<<20)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("services.stt.url", "")
	v.SetDefault("services.stt.language", "en")
	v.SetDefault("services.tts.url", "")
	v.SetDefault("services.tts.voice_reference", "")
	v.SetDefault("services.tts.language", "en")
	v.SetDefault("services.tts.stream", false)
	v.SetDefault("services.llm.api_key", "")
	v.SetDefault("services.llm.provider", "ollama")
	v.SetDefault("services.llm.url", "http://localhost:11434")
	v.SetDefault("services.llm.model", "mistral")
	v.SetDefault("services.llm.embed_model", "all-minilm")
	v.SetDefault("services.llm.temperature", 0.7)
	v.SetDefault("services.llm.top_p", 0.9)

	v.SetDefault("knowledge.corpus_dir", "./data/dsa_knowledge")
	v.SetDefault("knowledge.persist_path", "./data/knowledge.db")
	v.SetDefault("knowledge.chunk_size", 1000)
	v.SetDefault("knowledge.chunk_overlap", 200)
	v.SetDefault("knowledge.top_k", 3)
	v.SetDefault("knowledge.embedder", "hash")
	v.SetDefault("knowledge.dims", 384)
	v.SetDefault("knowledge.workers", 4)

	v.SetDefault("dialogue.question_bank", "")
	v.SetDefault("dialogue.max_context_chars", 4000)

	v.SetDefault("session.memory_window", 10)
	v.SetDefault("session.ttl", 2*time.Hour)
	v.SetDefault("session.completed_retention", 30*time.Minute)
	v.SetDefault("session.max_sessions", 4096)
	v.SetDefault("session.reap_interval", time.Minute)
	v.SetDefault("session.score_mode", "per_turn")
	v.SetDefault("session.scorer", "heuristic")

	v.SetDefault("paths.data", "./data")
	v.SetDefault("paths.outputs", "")
}

// Load reads configuration from path, or from the first existing file among
// config/<CONFIG_ENV>/config.yaml and config.yaml when path is empty. With no
// file at all, defaults and VIVA_* environment variables still apply.
func Load(path string) (*Root, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("VIVA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = guessPath()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Root
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func guessPath() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	guess := []string{
		filepath.Join("config", env, "config.yaml"),
		"config.yaml",
	}
	for _, p := range guess {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate rejects settings the core cannot run with.
func (c *Root) Validate() error {
	k := c.Knowledge
	if k.ChunkSize <= 0 {
		return fmt.Errorf("knowledge.chunk_size must be > 0")
	}
	if k.ChunkOverlap < 0 || k.ChunkOverlap >= k.ChunkSize {
		return fmt.Errorf("knowledge.chunk_overlap must be in [0, chunk_size)")
	}
	if k.TopK <= 0 {
		return fmt.Errorf("knowledge.top_k must be > 0")
	}
	if c.Session.MemoryWindow <= 0 {
		return fmt.Errorf("session.memory_window must be > 0")
	}
	switch c.Session.ScoreMode {
	case "per_turn", "batch":
	default:
		return fmt.Errorf("session.score_mode must be per_turn or batch, got %q", c.Session.ScoreMode)
	}
	switch c.Services.LLM.Provider {
	case "ollama", "gemini":
	default:
		return fmt.Errorf("services.llm.provider must be ollama or gemini, got %q", c.Services.LLM.Provider)
	}
	return nil
}
