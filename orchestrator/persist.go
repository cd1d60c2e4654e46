package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type PersistBundle struct {
	SessionID   string    `json:"session_id"`
	Subject     string    `json:"subject"`
	Difficulty  string    `json:"difficulty"`
	GeneratedAt time.Time `json:"generated_at"`
	Turns       []Turn    `json:"turns"`
	Report      Report    `json:"report"`
}

func mkSessionDir(outputsRoot, id string) (string, error) {
	dir := filepath.Join(outputsRoot, "session_"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func writeJSON(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// persist writes the finished session to <outputs>/session_<id>/report.json.
func persist(outputsRoot string, s *Session, turns []Turn, rep Report, now time.Time) (string, error) {
	dir, err := mkSessionDir(outputsRoot, s.ID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "report.json")
	rep.ExportPath = path
	bundle := PersistBundle{
		SessionID:   s.ID,
		Subject:     s.Subject,
		Difficulty:  s.Difficulty,
		GeneratedAt: now,
		Turns:       turns,
		Report:      rep,
	}
	if err := writeJSON(path, bundle); err != nil {
		return "", err
	}
	return path, nil
}
