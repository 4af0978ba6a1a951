package preflight

import (
	"context"

	"ventpipe/internal/config"
	"ventpipe/internal/services/llm"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
		CheckCredentials(cfg),
		CheckBlobStore(ctx, cfg),
	}

	if cfg.Analysis.Backend == config.AnalysisBackendLLM {
		results = append(results, CheckLLM(ctx, "Analysis LLM", llm.Config{
			APIKey:  cfg.Analysis.APIKey,
			BaseURL: cfg.Analysis.BaseURL,
			Model:   cfg.Analysis.Model,
			Title:   "ventpipe",
		}))
	}

	if cfg.Sink.Backend == config.SinkBackendPostgres {
		results = append(results, CheckPostgres(ctx, cfg.Sink.PostgresDSN))
	}

	for _, status := range CheckSystemDeps(ctx, cfg) {
		detail := status.Command
		if !status.Available {
			detail = status.Detail
		}
		results = append(results, Result{
			Name:   status.Name,
			Passed: status.Available || status.Optional,
			Detail: detail,
		})
	}
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
