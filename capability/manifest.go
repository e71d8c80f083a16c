package capability

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/internal/httpclient"
	"github.com/slatehq/slate/version"
)

// Adapter kinds accepted in the manifest.
const (
	KindSimulated = "simulated"
	KindCommand   = "command"
	KindHTTP      = "http"
)

// Profile configures one capability in the manifest.
type Profile struct {
	// Kind selects the adapter family; empty means simulated.
	Kind string `toml:"kind"`

	// Command is the command line for kind = "command". Split with shell
	// quoting rules; Args are appended verbatim.
	Command string   `toml:"command"`
	Args    []string `toml:"args"`

	// Env adds environment variables for the command process.
	Env map[string]string `toml:"env"`

	// Workdir is the command working directory; empty inherits ours.
	Workdir string `toml:"workdir"`

	// TimeoutSeconds bounds one invocation; 0 leaves the executor's
	// per-attempt timeout in charge.
	TimeoutSeconds int `toml:"timeout_seconds"`

	// URL is the service base URL for kind = "http".
	URL string `toml:"url"`
}

// Manifest declares which adapter serves each capability.
type Manifest struct {
	// Requires is a semver constraint on the slate version, checked before
	// any adapter is built.
	Requires string `toml:"requires"`

	Script   Profile `toml:"script"`
	Assemble Profile `toml:"assemble"`
	Upload   Profile `toml:"upload"`
}

// LoadManifest reads and parses a capability manifest.
func LoadManifest(path string) (*Manifest, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "capability manifest %s", path)
	}

	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, errors.Wrapf(err, "parsing capability manifest %s", path)
	}
	return &m, nil
}

// CheckCompatible validates the manifest's requires constraint against the
// given slate version. Dev builds (non-semver version strings) skip the
// gate.
func (m *Manifest) CheckCompatible(current string) error {
	if m.Requires == "" {
		return nil
	}

	cur, err := semver.NewVersion(strings.TrimPrefix(current, "v"))
	if err != nil {
		return nil
	}

	constraint, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return errors.Wrapf(err, "invalid requires constraint %q", m.Requires)
	}

	if !constraint.Check(cur) {
		return errors.Newf("capability manifest requires slate %s, but running %s", m.Requires, current)
	}
	return nil
}

// Deps carries what manifest-built adapters need from the composition root.
type Deps struct {
	Client *httpclient.SaferClient
	Logger *zap.SugaredLogger
}

// NewSet builds the capability set a manifest describes. A nil manifest
// yields the simulated set.
func NewSet(m *Manifest, deps Deps) (*Set, error) {
	if m == nil {
		return NewSimulatedSet(), nil
	}

	if err := m.CheckCompatible(version.Version); err != nil {
		return nil, err
	}

	set := &Set{}
	var err error

	if set.Script, err = buildScriptGenerator(m.Script, deps); err != nil {
		return nil, err
	}
	if set.Assembler, err = buildAssembler(m.Assemble, deps); err != nil {
		return nil, err
	}
	if set.Uploader, err = buildUploader(m.Upload, deps); err != nil {
		return nil, err
	}
	return set, nil
}

func buildScriptGenerator(p Profile, deps Deps) (ScriptGenerator, error) {
	switch p.Kind {
	case "", KindSimulated:
		return &SimulatedScriptGenerator{Delay: simStepDelay}, nil
	case KindCommand:
		return NewCommandScriptGenerator(p, deps.Logger)
	case KindHTTP:
		return NewHTTPScriptGenerator(p.URL, deps.Client, deps.Logger)
	default:
		return nil, errors.Newf("capability script: unknown kind %q", p.Kind)
	}
}

func buildAssembler(p Profile, deps Deps) (VideoAssembler, error) {
	switch p.Kind {
	case "", KindSimulated:
		return &SimulatedAssembler{StepDelay: simStepDelay}, nil
	case KindCommand:
		return NewCommandAssembler(p, deps.Logger)
	case KindHTTP:
		return NewHTTPAssembler(p.URL, deps.Client, deps.Logger)
	default:
		return nil, errors.Newf("capability assemble: unknown kind %q", p.Kind)
	}
}

func buildUploader(p Profile, deps Deps) (Uploader, error) {
	switch p.Kind {
	case "", KindSimulated:
		return &SimulatedUploader{StepDelay: simStepDelay}, nil
	case KindCommand:
		return NewCommandUploader(p, deps.Logger)
	case KindHTTP:
		return NewHTTPUploader(p.URL, deps.Client, deps.Logger)
	default:
		return nil, errors.Newf("capability upload: unknown kind %q", p.Kind)
	}
}
