package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ventpipe/internal/blobstore"
	"ventpipe/internal/capability"
	"ventpipe/internal/services"
	"ventpipe/internal/stage"
)

// storeHandler copies the uploaded raw audio into the blob store.
type storeHandler struct {
	blobs     blobstore.Store
	uploadDir string
	maxBytes  int64
}

func (h *storeHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	data, err := h.readRaw(ctx, strings.TrimSpace(req.Job.RawAudioKey))
	if err != nil {
		return stage.Result{}, err
	}
	if err := req.Check(ctx); err != nil {
		return stage.Result{}, err
	}
	key, err := h.blobs.Put(ctx, blobstore.PrefixRaw, data)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, "store", "put raw audio", "", err)
	}
	return stage.Result{Artifacts: map[string]string{ArtifactRawKey: key}}, nil
}

// readRaw accepts either a key already in the blob store or a path relative
// to the upload directory.
func (h *storeHandler) readRaw(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "read upload", "raw audio key is empty", nil)
	}
	if strings.HasPrefix(key, blobstore.PrefixRaw+"/") {
		data, err := h.blobs.Get(ctx, key)
		if err == nil {
			return h.checkSize(data)
		}
		if !errors.Is(err, blobstore.ErrNotFound) {
			return nil, services.Wrap(services.ErrTransient, "store", "read raw blob", key, err)
		}
	}
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return nil, services.Wrap(services.ErrValidation, "store", "read upload", fmt.Sprintf("raw audio key %q is not a relative path", key), nil)
	}
	path := filepath.Join(h.uploadDir, filepath.FromSlash(key))
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrValidation, "store", "read upload", fmt.Sprintf("raw audio %q not found", key), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "store", "stat upload", key, err)
	}
	if h.maxBytes > 0 && info.Size() > h.maxBytes {
		return nil, services.Wrap(services.ErrValidation, "store", "read upload",
			fmt.Sprintf("raw audio is %d bytes, limit is %d", info.Size(), h.maxBytes), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "store", "read upload", key, err)
	}
	return h.checkSize(data)
}

func (h *storeHandler) checkSize(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrValidation, "store", "read upload", "raw audio is empty", nil)
	}
	if h.maxBytes > 0 && int64(len(data)) > h.maxBytes {
		return nil, services.Wrap(services.ErrValidation, "store", "read upload",
			fmt.Sprintf("raw audio is %d bytes, limit is %d", len(data), h.maxBytes), nil)
	}
	return data, nil
}

func (h *storeHandler) HealthCheck(ctx context.Context) stage.Health {
	if h.blobs == nil {
		return stage.Unhealthy("store", "blob store not configured")
	}
	if _, err := os.Stat(h.uploadDir); err != nil {
		return stage.Unhealthy("store", fmt.Sprintf("upload dir: %v", err))
	}
	return stage.Healthy("store")
}

// anonymizeHandler rewrites the raw audio under the job's preset.
type anonymizeHandler struct {
	blobs            blobstore.Store
	anonymizer       capability.Anonymizer
	allowPassthrough bool
}

func (h *anonymizeHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	rawKey, ok := req.Artifact(ArtifactRawKey)
	if !ok {
		return stage.Result{}, services.Wrap(services.ErrPermanent, "anonymize", "load raw audio", "raw audio artifact missing", nil)
	}
	preset, err := capability.LookupPreset(req.Job.PresetID, h.allowPassthrough)
	if err != nil {
		return stage.Result{}, err
	}
	raw, err := getBlob(ctx, h.blobs, "anonymize", rawKey)
	if err != nil {
		return stage.Result{}, err
	}
	if err := req.Check(ctx); err != nil {
		return stage.Result{}, err
	}
	out, err := h.anonymizer.Anonymize(ctx, raw, preset)
	if err != nil {
		return stage.Result{}, err
	}
	if len(out.Data) == 0 {
		return stage.Result{}, services.Wrap(services.ErrPermanent, "anonymize", "anonymize", "anonymizer produced no audio", nil)
	}
	key, err := h.blobs.Put(ctx, blobstore.PrefixAnon, out.Data)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, "anonymize", "put anonymized audio", "", err)
	}
	artifacts := map[string]string{
		ArtifactAnonKey:    key,
		ArtifactAnonFormat: out.Format,
	}
	if out.DurationSeconds > 0 {
		artifacts[ArtifactDuration] = strconv.FormatFloat(out.DurationSeconds, 'f', 3, 64)
	}
	return stage.Result{Artifacts: artifacts}, nil
}

func (h *anonymizeHandler) HealthCheck(ctx context.Context) stage.Health {
	if h.anonymizer == nil {
		return stage.Unhealthy("anonymize", "anonymizer not configured")
	}
	return stage.Healthy("anonymize")
}

// transcribeHandler sends the anonymized audio to the transcription service.
type transcribeHandler struct {
	blobs       blobstore.Store
	transcriber capability.Transcriber
}

func (h *transcribeHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	anonKey, ok := req.Artifact(ArtifactAnonKey)
	if !ok {
		return stage.Result{}, services.Wrap(services.ErrPermanent, "transcribe", "load audio", "anonymized audio artifact missing", nil)
	}
	audio, err := getBlob(ctx, h.blobs, "transcribe", anonKey)
	if err != nil {
		return stage.Result{}, err
	}
	if err := req.Check(ctx); err != nil {
		return stage.Result{}, err
	}
	format, _ := req.Artifact(ArtifactAnonFormat)
	transcript, err := h.transcriber.Transcribe(ctx, capability.TranscriptionRequest{
		Audio:    audio,
		MimeType: mimeType(format),
		Kind:     capability.Kind(req.Job.Kind),
	})
	if err != nil {
		return stage.Result{}, err
	}
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return stage.Result{}, services.Wrap(services.ErrPermanent, "transcribe", "transcribe", "no speech detected", nil)
	}
	artifacts := map[string]string{ArtifactTranscript: text}
	setIfPresent(artifacts, ArtifactTranscriptSummary, transcript.Summary)
	setIfPresent(artifacts, ArtifactTranscriptTLDR, transcript.TLDR)
	setIfPresent(artifacts, ArtifactTranscriptLanguage, transcript.Language)
	return stage.Result{Artifacts: artifacts}, nil
}

func (h *transcribeHandler) HealthCheck(ctx context.Context) stage.Health {
	if h.transcriber == nil {
		return stage.Unhealthy("transcribe", "transcriber not configured")
	}
	if guarded, ok := h.transcriber.(capability.GuardedTranscriber); ok {
		return breakerHealth("transcribe", guarded.Breaker)
	}
	return stage.Healthy("transcribe")
}

func getBlob(ctx context.Context, blobs blobstore.Store, stageName, key string) ([]byte, error) {
	data, err := blobs.Get(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, services.Wrap(services.ErrPermanent, stageName, "get blob", fmt.Sprintf("%s is missing", key), err)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "get blob", key, err)
	}
	return data, nil
}

func mimeType(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "mp3":
		return "audio/mpeg"
	case "ogg", "opus":
		return "audio/ogg"
	case "webm":
		return "audio/webm"
	case "m4a", "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}

func setIfPresent(artifacts map[string]string, name, value string) {
	if value = strings.TrimSpace(value); value != "" {
		artifacts[name] = value
	}
}

// breakerHealth reports a stage as degraded while its capability's breaker
// is not closed.
func breakerHealth(name string, b *capability.Breaker) stage.Health {
	switch state := b.State(); state {
	case capability.BreakerClosed:
		return stage.Healthy(name)
	default:
		return stage.Degraded(name, "circuit breaker "+state.String())
	}
}
