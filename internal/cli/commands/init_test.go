package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcalc/internal/loader"
)

func TestNewInitCommand(t *testing.T) {
	tests := []struct {
		name      string
		setupDir  func(t *testing.T, dir string) // setup before running
		args      []string
		wantErr   bool
		wantFiles []string
	}{
		{
			name: "init empty directory",
			args: []string{},
			wantFiles: []string{
				"leapcalc.yaml",
				".gitignore",
				"templates",
				"templates/budget_line.yaml",
			},
		},
		{
			name: "init example",
			args: []string{"--example"},
			wantFiles: []string{
				"leapcalc.yaml",
				"templates/budget_line.yaml",
				"templates/chapter.yaml",
				"budget.yaml",
			},
		},
		{
			name: "init existing config without force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "leapcalc.yaml"), []byte("existing"), 0600)
			},
			args:    []string{},
			wantErr: true,
		},
		{
			name: "init existing config with force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "leapcalc.yaml"), []byte("existing"), 0600)
			},
			args: []string{"--force"},
			wantFiles: []string{
				"leapcalc.yaml",
				"templates",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			t.Chdir(tmpDir)

			if tt.setupDir != nil {
				tt.setupDir(t, tmpDir)
			}

			cmd := NewInitCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			for _, f := range tt.wantFiles {
				_, err := os.Stat(filepath.Join(tmpDir, f))
				assert.False(t, os.IsNotExist(err), "expected file/dir %q to exist", f)
			}
		})
	}
}

func TestInitCommandMetadata(t *testing.T) {
	cmd := NewInitCommand()

	assert.Equal(t, "init [directory]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotNil(t, cmd.Flags().Lookup("force"), "--force flag should exist")
	assert.NotNil(t, cmd.Flags().Lookup("example"), "--example flag should exist")
}

func TestInitCreatesValidProject(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := NewInitCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{tmpDir, "--example"})
	require.NoError(t, cmd.Execute())

	content, err := os.ReadFile(filepath.Join(tmpDir, "leapcalc.yaml"))
	require.NoError(t, err, "failed to read leapcalc.yaml")
	for _, expected := range []string{"templates_dir: templates", "type: sqlite", "precision:"} {
		assert.Contains(t, string(content), expected, "config should contain %q", expected)
	}

	// The scaffolded templates must load and the sample budget must parse.
	catalog, err := loader.Load(filepath.Join(tmpDir, "templates"))
	require.NoError(t, err)
	assert.Equal(t, []string{"budget_line", "chapter"}, catalog.Names())

	entities, err := readEntities(filepath.Join(tmpDir, "budget.yaml"))
	require.NoError(t, err)
	assert.Len(t, entities, 4)
}
