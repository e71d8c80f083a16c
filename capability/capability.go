// Package capability defines the contracts between the scheduler core and
// the external production collaborators: script generation, video assembly,
// and upload.
//
// Three adapter families fulfil the contracts:
//   - simulated: deterministic in-process implementations (the default)
//   - command: a configured local command, request JSON on stdin, result
//     JSON on stdout, PROGRESS lines on stderr
//   - http: a JSON POST to a capability service
//
// Which family serves each capability is declared in a TOML manifest
// (~/.slate/capabilities.toml by default); see LoadManifest and NewSet.
package capability

import (
	"context"
	"time"
)

// ProgressFunc receives progress updates in the 0-100 range. Implementations
// must tolerate nil callbacks and out-of-order percentages.
type ProgressFunc func(percent int)

// ScriptRequest describes the content a script should be generated for.
type ScriptRequest struct {
	Topic           string   `json:"topic"`
	Style           string   `json:"style,omitempty"`
	DurationSeconds int      `json:"duration_seconds"`
	Tags            []string `json:"tags,omitempty"`
}

// Script is the artifact of the SCRIPT stage.
type Script struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Style     string `json:"style,omitempty"`
	WordCount int    `json:"word_count"`
}

// AssembleOptions carries assembly inputs beyond the script itself.
type AssembleOptions struct {
	Assets []string `json:"assets,omitempty"`
	Voice  string   `json:"voice,omitempty"`
}

// VideoArtifact is the artifact of the ASSEMBLE stage.
type VideoArtifact struct {
	Path            string `json:"path"`
	Format          string `json:"format"`
	DurationSeconds int    `json:"duration_seconds"`
	SizeBytes       int64  `json:"size_bytes"`
}

// UploadMetadata describes the published video. A nil PublishAt publishes
// immediately; a PublishAt in the past also publishes immediately.
type UploadMetadata struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Category    string     `json:"category,omitempty"`
	Privacy     string     `json:"privacy,omitempty"`
	PublishAt   *time.Time `json:"publish_at,omitempty"`
}

// UploadReceipt is the artifact of the UPLOAD stage.
type UploadReceipt struct {
	VideoID string `json:"video_id"`
	URL     string `json:"url"`
}

// ScriptGenerator produces a script for a topic. Implementations must honour
// ctx cancellation.
type ScriptGenerator interface {
	Generate(ctx context.Context, req ScriptRequest) (*Script, error)
}

// VideoAssembler renders a script into a video artifact, reporting progress
// along the way.
type VideoAssembler interface {
	Assemble(ctx context.Context, script *Script, opts AssembleOptions, progress ProgressFunc) (*VideoArtifact, error)
}

// Uploader publishes a video artifact and returns where it landed.
type Uploader interface {
	Upload(ctx context.Context, artifact *VideoArtifact, meta UploadMetadata, progress ProgressFunc) (*UploadReceipt, error)
}

// Set bundles one implementation of each capability for the pipeline.
type Set struct {
	Script    ScriptGenerator
	Assembler VideoAssembler
	Uploader  Uploader
}

// Wire envelopes shared by the command and http adapters.

type assembleRequest struct {
	Script  *Script         `json:"script"`
	Options AssembleOptions `json:"options"`
}

type uploadRequest struct {
	Artifact *VideoArtifact `json:"artifact"`
	Metadata UploadMetadata `json:"metadata"`
}
