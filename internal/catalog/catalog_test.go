package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

const ciYAML = `name: ci
kind: ci
downstream: cd
stages:
  - name: build
    class: build
    action:
      type: command
      command: make build
    timeout: 90s
  - name: test
    class: test
    dependsOn: [build]
    action:
      type: command
      command: make test
    retries: 1
  - name: publish
    class: publish
    dependsOn: [test]
    action:
      type: publish
      artifact:
        name: app
        path: dist/app.tgz
`

const cdYAML = `name: cd
kind: cd
stages:
  - name: deploy
    class: deploy
    action:
      type: apply
      workload:
        name: app
        image: registry.local/${artifact.name}:${artifact.version}
        replicas: 2
        selector: app=app
  - name: verify
    class: verify
    dependsOn: [deploy]
    action:
      type: verify
      health:
        selector: app=app
        interval: 5s
        successThreshold: 2
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoadDir(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"ci.yaml":   ciYAML,
		"cd.yml":    cdYAML,
		"notes.txt": "ignored",
		"README.md": "ignored",
	})

	c := New()
	require.NoError(t, c.LoadDir(dir))
	require.NoError(t, c.Validate())

	ci, ok := c.Get("ci")
	require.True(t, ok)
	assert.Equal(t, types.KindCI, ci.Kind)
	assert.Equal(t, "cd", ci.Downstream)
	require.Len(t, ci.Stages, 3)
	assert.Equal(t, []string{"build"}, ci.Stages[1].DependsOn)
	assert.Equal(t, 1, ci.Stages[1].Retries)

	cd, ok := c.Get("cd")
	require.True(t, ok)
	assert.Equal(t, types.KindCD, cd.Kind)
	require.NotNil(t, cd.Stages[1].Action.Health)
	assert.Equal(t, 2, cd.Stages[1].Action.Health.SuccessThreshold)

	names := []string{}
	for _, def := range c.List() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"cd", "ci"}, names)
}

func TestLoadFileRejectsBadYAML(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bad.yaml": "stages: [not a mapping"})
	c := New()
	err := c.LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing")
}

func TestKindDefaultsToCI(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(types.PipelineDefinition{
		Name: "plain",
		Stages: []types.StageSpec{{
			Name: "build", Class: types.ClassBuild,
			Action: types.ActionSpec{Type: types.ActionCommand, Command: "true"},
		}},
	}))
	def, ok := c.Get("plain")
	require.True(t, ok)
	assert.Equal(t, types.KindCI, def.Kind)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	def := types.PipelineDefinition{
		Name: "ci", Kind: types.KindCI,
		Stages: []types.StageSpec{{
			Name: "build", Action: types.ActionSpec{Type: types.ActionCommand, Command: "true"},
		}},
	}
	c := New()
	require.NoError(t, c.Register(def))
	err := c.Register(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registered twice")
}

func TestValidateDefinition(t *testing.T) {
	command := types.ActionSpec{Type: types.ActionCommand, Command: "true"}
	tests := []struct {
		name    string
		def     types.PipelineDefinition
		wantErr string
	}{
		{
			"no name",
			types.PipelineDefinition{Kind: types.KindCI},
			"no name",
		},
		{
			"bad kind",
			types.PipelineDefinition{Name: "p", Kind: "release"},
			"unknown kind",
		},
		{
			"cycle",
			types.PipelineDefinition{Name: "p", Kind: types.KindCI, Stages: []types.StageSpec{
				{Name: "a", DependsOn: []string{"b"}, Action: command},
				{Name: "b", DependsOn: []string{"a"}, Action: command},
			}},
			"cycle",
		},
		{
			"missing command",
			types.PipelineDefinition{Name: "p", Kind: types.KindCI, Stages: []types.StageSpec{
				{Name: "a", Action: types.ActionSpec{Type: types.ActionCommand}},
			}},
			"needs a command",
		},
		{
			"missing url",
			types.PipelineDefinition{Name: "p", Kind: types.KindCI, Stages: []types.StageSpec{
				{Name: "a", Action: types.ActionSpec{Type: types.ActionHTTP}},
			}},
			"needs a url",
		},
		{
			"publish without artifact",
			types.PipelineDefinition{Name: "p", Kind: types.KindCI, Stages: []types.StageSpec{
				{Name: "a", Action: types.ActionSpec{Type: types.ActionPublish}},
			}},
			"artifact name",
		},
		{
			"apply without image",
			types.PipelineDefinition{Name: "p", Kind: types.KindCD, Stages: []types.StageSpec{
				{Name: "a", Action: types.ActionSpec{
					Type: types.ActionApply, Workload: &types.WorkloadSpec{Name: "w"},
				}},
			}},
			"workload image",
		},
		{
			"verify without selector",
			types.PipelineDefinition{Name: "p", Kind: types.KindCD, Stages: []types.StageSpec{
				{Name: "a", Action: types.ActionSpec{Type: types.ActionVerify}},
			}},
			"health selector",
		},
		{
			"no action type",
			types.PipelineDefinition{Name: "p", Kind: types.KindCI, Stages: []types.StageSpec{
				{Name: "a"},
			}},
			"no action type",
		},
		{
			"bad timeout",
			types.PipelineDefinition{Name: "p", Kind: types.KindCI, Stages: []types.StageSpec{
				{Name: "a", Action: command, Timeout: "ninety"},
			}},
			"bad timeout",
		},
		{
			"negative retries",
			types.PipelineDefinition{Name: "p", Kind: types.KindCI, Stages: []types.StageSpec{
				{Name: "a", Action: command, Retries: -1},
			}},
			"negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDefinition(tt.def)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCrossPipelineLinks(t *testing.T) {
	build := types.StageSpec{
		Name: "build", Action: types.ActionSpec{Type: types.ActionCommand, Command: "true"},
	}
	tests := []struct {
		name    string
		defs    []types.PipelineDefinition
		wantErr string
	}{
		{
			"downstream missing",
			[]types.PipelineDefinition{
				{Name: "ci", Kind: types.KindCI, Downstream: "ghost", Stages: []types.StageSpec{build}},
			},
			"not found",
		},
		{
			"downstream on cd pipeline",
			[]types.PipelineDefinition{
				{Name: "cd", Kind: types.KindCD, Downstream: "other", Stages: []types.StageSpec{build}},
				{Name: "other", Kind: types.KindCD, Stages: []types.StageSpec{build}},
			},
			"only ci pipelines",
		},
		{
			"downstream self reference",
			[]types.PipelineDefinition{
				{Name: "ci", Kind: types.KindCI, Downstream: "ci", Stages: []types.StageSpec{build}},
			},
			"itself",
		},
		{
			"downstream not cd",
			[]types.PipelineDefinition{
				{Name: "ci", Kind: types.KindCI, Downstream: "ci2", Stages: []types.StageSpec{build}},
				{Name: "ci2", Kind: types.KindCI, Stages: []types.StageSpec{build}},
			},
			"not a cd pipeline",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			for _, def := range tt.defs {
				require.NoError(t, c.Register(def))
			}
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
