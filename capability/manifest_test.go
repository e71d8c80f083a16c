package capability

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slatehq/slate/internal/httpclient"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capabilities.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
requires = ">= 0.1.0"

[script]
kind = "command"
command = "python3 generate.py"
args = ["--model", "large"]
timeout_seconds = 120

[script.env]
GEN_MODE = "fast"

[assemble]
kind = "http"
url = "http://localhost:9010"

[upload]
kind = "simulated"
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)

	assert.Equal(t, ">= 0.1.0", m.Requires)
	assert.Equal(t, KindCommand, m.Script.Kind)
	assert.Equal(t, "python3 generate.py", m.Script.Command)
	assert.Equal(t, []string{"--model", "large"}, m.Script.Args)
	assert.Equal(t, 120, m.Script.TimeoutSeconds)
	assert.Equal(t, "fast", m.Script.Env["GEN_MODE"])
	assert.Equal(t, KindHTTP, m.Assemble.Kind)
	assert.Equal(t, "http://localhost:9010", m.Assemble.URL)
	assert.Equal(t, KindSimulated, m.Upload.Kind)
}

func TestLoadManifest_Missing(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadManifest_Malformed(t *testing.T) {
	path := writeManifest(t, "[script\nkind = ")
	_, err := LoadManifest(path)
	require.Error(t, err)
}

func TestCheckCompatible(t *testing.T) {
	tests := []struct {
		name     string
		requires string
		current  string
		wantErr  bool
	}{
		{"no constraint", "", "0.1.0", false},
		{"satisfied", ">= 0.1.0", "0.2.0", false},
		{"satisfied with v prefix", ">= 0.1.0", "v0.2.0", false},
		{"unsatisfied", ">= 2.0.0", "0.2.0", true},
		{"dev build skips gate", ">= 2.0.0", "dev", false},
		{"bad constraint", "not-a-constraint", "0.1.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{Requires: tt.requires}
			err := m.CheckCompatible(tt.current)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewSet_NilManifestIsSimulated(t *testing.T) {
	set, err := NewSet(nil, Deps{})
	require.NoError(t, err)
	require.NotNil(t, set)

	assert.IsType(t, &SimulatedScriptGenerator{}, set.Script)
	assert.IsType(t, &SimulatedAssembler{}, set.Assembler)
	assert.IsType(t, &SimulatedUploader{}, set.Uploader)
}

func TestNewSet_EmptyKindsAreSimulated(t *testing.T) {
	set, err := NewSet(&Manifest{}, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &SimulatedScriptGenerator{}, set.Script)
}

func TestNewSet_BuildErrors(t *testing.T) {
	client := httpclient.WrapClient(&http.Client{})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := NewSet(&Manifest{Script: Profile{Kind: "grpc"}}, Deps{Client: client})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown kind")
	})

	t.Run("command without command line", func(t *testing.T) {
		_, err := NewSet(&Manifest{Assemble: Profile{Kind: KindCommand}}, Deps{Client: client})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "command is required")
	})

	t.Run("http without url", func(t *testing.T) {
		_, err := NewSet(&Manifest{Upload: Profile{Kind: KindHTTP}}, Deps{Client: client})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "url is required")
	})

	t.Run("http without client", func(t *testing.T) {
		_, err := NewSet(&Manifest{Upload: Profile{Kind: KindHTTP, URL: "http://example.com"}}, Deps{})
		require.Error(t, err)
	})
}

func TestNewSet_MixedKinds(t *testing.T) {
	client := httpclient.WrapClient(&http.Client{})
	m := &Manifest{
		Script:   Profile{Kind: KindCommand, Command: "generate --fast"},
		Assemble: Profile{Kind: KindHTTP, URL: "http://render.example.com"},
		Upload:   Profile{},
	}

	set, err := NewSet(m, Deps{Client: client})
	require.NoError(t, err)
	assert.IsType(t, &commandScriptGenerator{}, set.Script)
	assert.IsType(t, &httpAssembler{}, set.Assembler)
	assert.IsType(t, &SimulatedUploader{}, set.Uploader)
}
