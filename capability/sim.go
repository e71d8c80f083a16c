package capability

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

const simStepDelay = 50 * time.Millisecond

// NewSimulatedSet returns the default capability set: deterministic
// in-process implementations with small delays so progress is observable.
func NewSimulatedSet() *Set {
	return &Set{
		Script:    &SimulatedScriptGenerator{Delay: simStepDelay},
		Assembler: &SimulatedAssembler{StepDelay: simStepDelay},
		Uploader:  &SimulatedUploader{StepDelay: simStepDelay},
	}
}

// SimulatedScriptGenerator produces a deterministic script from the topic.
type SimulatedScriptGenerator struct {
	// Delay before the script is returned; 0 returns immediately.
	Delay time.Duration

	// Fail, when non-nil, is returned instead of a script. Tests use this
	// to drive the retry path.
	Fail error
}

func (g *SimulatedScriptGenerator) Generate(ctx context.Context, req ScriptRequest) (*Script, error) {
	if err := sleepCtx(ctx, g.Delay); err != nil {
		return nil, err
	}
	if g.Fail != nil {
		return nil, g.Fail
	}

	title := req.Topic
	if req.Style != "" {
		title = fmt.Sprintf("%s (%s)", req.Topic, req.Style)
	}

	sections := req.DurationSeconds / 60
	if sections < 1 {
		sections = 1
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Opening: %s.\n", req.Topic)
	for i := 1; i <= sections; i++ {
		fmt.Fprintf(&b, "Section %d: more about %s.\n", i, req.Topic)
	}
	b.WriteString("Closing remarks.\n")

	body := b.String()
	return &Script{
		Title:     title,
		Body:      body,
		Style:     req.Style,
		WordCount: len(strings.Fields(body)),
	}, nil
}

// SimulatedAssembler renders a fake artifact, stepping progress to 100.
type SimulatedAssembler struct {
	StepDelay time.Duration
	Steps     int // default 4

	Fail error
}

func (a *SimulatedAssembler) Assemble(ctx context.Context, script *Script, opts AssembleOptions, progress ProgressFunc) (*VideoArtifact, error) {
	steps := a.Steps
	if steps <= 0 {
		steps = 4
	}

	for i := 1; i <= steps; i++ {
		if err := sleepCtx(ctx, a.StepDelay); err != nil {
			return nil, err
		}
		if a.Fail != nil {
			return nil, a.Fail
		}
		if progress != nil {
			progress(i * 100 / steps)
		}
	}

	duration := script.WordCount / 2
	if duration < 1 {
		duration = 1
	}
	return &VideoArtifact{
		Path:            fmt.Sprintf("sim://video/%s.mp4", slugify(script.Title)),
		Format:          "mp4",
		DurationSeconds: duration,
		SizeBytes:       int64(len(script.Body)) * 1024,
	}, nil
}

// SimulatedUploader publishes nowhere and mints a deterministic receipt.
type SimulatedUploader struct {
	StepDelay time.Duration
	Steps     int // default 4

	Fail error
}

func (u *SimulatedUploader) Upload(ctx context.Context, artifact *VideoArtifact, meta UploadMetadata, progress ProgressFunc) (*UploadReceipt, error) {
	steps := u.Steps
	if steps <= 0 {
		steps = 4
	}

	for i := 1; i <= steps; i++ {
		if err := sleepCtx(ctx, u.StepDelay); err != nil {
			return nil, err
		}
		if u.Fail != nil {
			return nil, u.Fail
		}
		if progress != nil {
			progress(i * 100 / steps)
		}
	}

	h := fnv.New32a()
	h.Write([]byte(artifact.Path))
	h.Write([]byte(meta.Title))
	id := fmt.Sprintf("sim-%08x", h.Sum32())

	return &UploadReceipt{
		VideoID: id,
		URL:     "https://videos.invalid/watch?v=" + id,
	}, nil
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
