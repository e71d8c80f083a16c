package capability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/slatehq/slate/errors"
)

// About stderr: anything matching "PROGRESS <n>" feeds the progress
// callback; other lines are kept (bounded) for the failure message and
// logged at debug level.
const maxStderrLines = 20

// pipeWaitDelay bounds how long a cancelled command may hold its pipes
// open. A killed shell can leave children sharing stderr; without the
// delay the drain below blocks until the last of them exits.
const pipeWaitDelay = time.Second

// commandRunner executes one configured command per call. The request is
// JSON on stdin, the result JSON on stdout.
type commandRunner struct {
	name    string
	argv    []string
	env     map[string]string
	workdir string
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func newCommandRunner(name string, p Profile, logger *zap.SugaredLogger) (*commandRunner, error) {
	if strings.TrimSpace(p.Command) == "" {
		return nil, errors.Newf("capability %s: command is required for kind %q", name, KindCommand)
	}

	argv, err := shellquote.Split(p.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "capability %s: parsing command line %q", name, p.Command)
	}
	argv = append(argv, p.Args...)

	return &commandRunner{
		name:    name,
		argv:    argv,
		env:     p.Env,
		workdir: p.Workdir,
		timeout: time.Duration(p.TimeoutSeconds) * time.Second,
		logger:  logger,
	}, nil
}

func (r *commandRunner) run(ctx context.Context, request, result any, progress ProgressFunc) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	input, err := json.Marshal(request)
	if err != nil {
		return errors.Wrapf(err, "capability %s: encoding request", r.name)
	}

	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	cmd.Dir = r.workdir
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = pipeWaitDelay

	cmd.Env = os.Environ()
	for key, value := range r.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrapf(err, "capability %s: stderr pipe", r.name)
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "capability %s: starting %s", r.name, r.argv[0])
	}

	// Drain stderr before Wait; stdout is a buffer so this is the only
	// pipe in play.
	var tail []string
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if pct, ok := parseProgressLine(line); ok {
			if progress != nil {
				progress(pct)
			}
			continue
		}
		tail = append(tail, line)
		if len(tail) > maxStderrLines {
			tail = tail[1:]
		}
		if r.logger != nil {
			r.logger.Debugw("Capability output", "capability", r.name, "message", line)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if len(tail) > 0 {
			return errors.Wrapf(err, "capability %s failed: %s", r.name, strings.Join(tail, "; "))
		}
		return errors.Wrapf(err, "capability %s failed", r.name)
	}

	if err := json.Unmarshal(stdout.Bytes(), result); err != nil {
		return errors.Wrapf(err, "capability %s: invalid result JSON", r.name)
	}
	return nil
}

// parseProgressLine recognises "PROGRESS <n>" with n in 0..100.
func parseProgressLine(line string) (int, bool) {
	rest, ok := strings.CutPrefix(line, "PROGRESS ")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || n < 0 || n > 100 {
		return 0, false
	}
	return n, true
}

type commandScriptGenerator struct {
	runner *commandRunner
}

// NewCommandScriptGenerator builds a ScriptGenerator over a local command.
func NewCommandScriptGenerator(p Profile, logger *zap.SugaredLogger) (ScriptGenerator, error) {
	runner, err := newCommandRunner("script", p, logger)
	if err != nil {
		return nil, err
	}
	return &commandScriptGenerator{runner: runner}, nil
}

func (g *commandScriptGenerator) Generate(ctx context.Context, req ScriptRequest) (*Script, error) {
	var script Script
	if err := g.runner.run(ctx, req, &script, nil); err != nil {
		return nil, err
	}
	return &script, nil
}

type commandAssembler struct {
	runner *commandRunner
}

// NewCommandAssembler builds a VideoAssembler over a local command.
func NewCommandAssembler(p Profile, logger *zap.SugaredLogger) (VideoAssembler, error) {
	runner, err := newCommandRunner("assemble", p, logger)
	if err != nil {
		return nil, err
	}
	return &commandAssembler{runner: runner}, nil
}

func (a *commandAssembler) Assemble(ctx context.Context, script *Script, opts AssembleOptions, progress ProgressFunc) (*VideoArtifact, error) {
	var artifact VideoArtifact
	req := assembleRequest{Script: script, Options: opts}
	if err := a.runner.run(ctx, req, &artifact, progress); err != nil {
		return nil, err
	}
	return &artifact, nil
}

type commandUploader struct {
	runner *commandRunner
}

// NewCommandUploader builds an Uploader over a local command.
func NewCommandUploader(p Profile, logger *zap.SugaredLogger) (Uploader, error) {
	runner, err := newCommandRunner("upload", p, logger)
	if err != nil {
		return nil, err
	}
	return &commandUploader{runner: runner}, nil
}

func (u *commandUploader) Upload(ctx context.Context, artifact *VideoArtifact, meta UploadMetadata, progress ProgressFunc) (*UploadReceipt, error) {
	var receipt UploadReceipt
	req := uploadRequest{Artifact: artifact, Metadata: meta}
	if err := u.runner.run(ctx, req, &receipt, progress); err != nil {
		return nil, err
	}
	return &receipt, nil
}
