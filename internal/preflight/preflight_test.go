package preflight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ventpipe/internal/config"
	"ventpipe/internal/deps"
	"ventpipe/internal/services/llm"
	"ventpipe/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckLLM_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": `{"ok":true}`}}},
		})
	}))
	defer srv.Close()

	result := CheckLLM(context.Background(), "Analysis LLM", llm.Config{APIKey: "good-key", BaseURL: srv.URL, Model: "m"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}

	result = CheckLLM(context.Background(), "Analysis LLM", llm.Config{APIKey: "bad-key", BaseURL: srv.URL, Model: "m"})
	if result.Passed {
		t.Fatal("expected failure for bad key")
	}
}

func TestCheckLLM_MissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), "Analysis LLM", llm.Config{})
	if result.Passed || result.Detail != "API key missing" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCheckCredentials(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if result := CheckCredentials(cfg); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	cfg.Transcription.APIKey = ""
	if result := CheckCredentials(cfg); result.Passed {
		t.Fatal("expected failure without transcription key")
	}
}

func TestCheckSystemDepsFollowsBackends(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Anonymizer.Backend = config.AnonymizerBackendFFmpeg
	cfg.Transcription.Backend = config.TranscriptionBackendGemini
	names := depNames(CheckSystemDeps(context.Background(), cfg))
	if names != "FFmpeg,FFprobe" {
		t.Fatalf("unexpected deps %q", names)
	}

	cfg.Anonymizer.Backend = config.AnonymizerBackendPassthrough
	cfg.Transcription.Backend = config.TranscriptionBackendWhisperX
	names = depNames(CheckSystemDeps(context.Background(), cfg))
	if names != "uvx" {
		t.Fatalf("unexpected deps %q", names)
	}
}

func TestCheckBlobStoreFilesystem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	result := CheckBlobStore(context.Background(), cfg)
	if result.Detail == "" {
		t.Fatal("expected detail for blob store check")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_PassthroughConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPassthroughAnonymizer())

	results := RunAll(context.Background(), cfg)
	byName := map[string]Result{}
	for _, r := range results {
		byName[r.Name] = r
	}
	for _, name := range []string{"Data directory", "Upload directory", "Credentials"} {
		r, ok := byName[name]
		if !ok {
			t.Fatalf("expected %q check in results", name)
		}
		if !r.Passed {
			t.Errorf("check %q failed: %s", name, r.Detail)
		}
	}
	if _, ok := byName["Blob store"]; !ok {
		t.Fatal("expected blob store check in results")
	}
	if _, ok := byName["FFmpeg"]; ok {
		t.Fatal("passthrough anonymizer should not require ffmpeg")
	}
	if _, ok := byName["Postgres sink"]; ok {
		t.Fatal("sqlite sink should not check postgres")
	}
	if len(Failed([]Result{{Name: "a", Passed: true}, {Name: "b"}})) != 1 {
		t.Fatal("Failed should return only failing checks")
	}
}

func depNames(statuses []deps.Status) string {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, st.Name)
	}
	return strings.Join(names, ",")
}
