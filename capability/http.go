package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/internal/httpclient"
)

const maxResponseBytes = 4 << 20

// httpCapability posts JSON to a capability service. One POST per
// invocation; no interim progress is available over this transport, so
// adapters report 100 on success.
type httpCapability struct {
	name    string
	baseURL string
	client  *httpclient.SaferClient
	logger  *zap.SugaredLogger
}

func newHTTPCapability(name, baseURL string, client *httpclient.SaferClient, logger *zap.SugaredLogger) (*httpCapability, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.Newf("capability %s: url is required for kind %q", name, KindHTTP)
	}
	if client == nil {
		return nil, errors.Newf("capability %s: no HTTP client provided", name)
	}
	if _, err := client.ValidateURL(baseURL); err != nil {
		return nil, errors.Wrapf(err, "capability %s", name)
	}
	return &httpCapability{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  logger,
	}, nil
}

func (h *httpCapability) post(ctx context.Context, path string, request, result any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return errors.Wrapf(err, "capability %s: encoding request", h.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "capability %s: creating request", h.name)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// Connection failures are worth retrying.
		return errors.MarkTransient(errors.Wrapf(err, "capability %s: request failed", h.name))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.MarkTransient(errors.Wrapf(err, "capability %s: reading response", h.name))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return h.statusError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return errors.Wrapf(err, "capability %s: invalid response JSON", h.name)
	}
	return nil
}

// statusError classifies non-2xx responses: 5xx and 429 are transient,
// everything else terminal.
func (h *httpCapability) statusError(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}

	var err error
	if detail != "" {
		err = errors.Newf("capability %s: %d %s: %s", h.name, status, http.StatusText(status), detail)
	} else {
		err = errors.Newf("capability %s: %d %s", h.name, status, http.StatusText(status))
	}

	if status >= 500 || status == http.StatusTooManyRequests {
		return errors.MarkTransient(err)
	}
	return errors.MarkTerminal(err)
}

type httpScriptGenerator struct {
	cap *httpCapability
}

// NewHTTPScriptGenerator builds a ScriptGenerator that POSTs to
// {url}/generate.
func NewHTTPScriptGenerator(baseURL string, client *httpclient.SaferClient, logger *zap.SugaredLogger) (ScriptGenerator, error) {
	c, err := newHTTPCapability("script", baseURL, client, logger)
	if err != nil {
		return nil, err
	}
	return &httpScriptGenerator{cap: c}, nil
}

func (g *httpScriptGenerator) Generate(ctx context.Context, req ScriptRequest) (*Script, error) {
	var script Script
	if err := g.cap.post(ctx, "/generate", req, &script); err != nil {
		return nil, err
	}
	return &script, nil
}

type httpAssembler struct {
	cap *httpCapability
}

// NewHTTPAssembler builds a VideoAssembler that POSTs to {url}/assemble.
func NewHTTPAssembler(baseURL string, client *httpclient.SaferClient, logger *zap.SugaredLogger) (VideoAssembler, error) {
	c, err := newHTTPCapability("assemble", baseURL, client, logger)
	if err != nil {
		return nil, err
	}
	return &httpAssembler{cap: c}, nil
}

func (a *httpAssembler) Assemble(ctx context.Context, script *Script, opts AssembleOptions, progress ProgressFunc) (*VideoArtifact, error) {
	var artifact VideoArtifact
	req := assembleRequest{Script: script, Options: opts}
	if err := a.cap.post(ctx, "/assemble", req, &artifact); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(100)
	}
	return &artifact, nil
}

type httpUploader struct {
	cap *httpCapability
}

// NewHTTPUploader builds an Uploader that POSTs to {url}/upload.
func NewHTTPUploader(baseURL string, client *httpclient.SaferClient, logger *zap.SugaredLogger) (Uploader, error) {
	c, err := newHTTPCapability("upload", baseURL, client, logger)
	if err != nil {
		return nil, err
	}
	return &httpUploader{cap: c}, nil
}

func (u *httpUploader) Upload(ctx context.Context, artifact *VideoArtifact, meta UploadMetadata, progress ProgressFunc) (*UploadReceipt, error) {
	var receipt UploadReceipt
	req := uploadRequest{Artifact: artifact, Metadata: meta}
	if err := u.cap.post(ctx, "/upload", req, &receipt); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(100)
	}
	return &receipt, nil
}
