package dag

import (
	"testing"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stage(name string, deps ...string) types.StageSpec {
	return types.StageSpec{Name: name, Class: types.ClassBuild, DependsOn: deps}
}

func TestBuildDiamond(t *testing.T) {
	g, err := Build([]types.StageSpec{
		stage("build"),
		stage("test", "build"),
		stage("scan", "build"),
		stage("publish", "test", "scan"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "test", "scan", "publish"}, g.Order())
	assert.Equal(t, []string{"test", "scan"}, g.Dependents("build"))
	assert.Equal(t, []string{"test", "scan"}, g.Deps("publish"))
	assert.Equal(t, 4, g.Len())
}

func TestBuildEmptyDefinition(t *testing.T) {
	g, err := Build(nil)
	require.NoError(t, err)
	assert.Empty(t, g.Order())
	assert.Equal(t, 0, g.Len())
}

func TestBuildOrderIsDeterministic(t *testing.T) {
	stages := []types.StageSpec{
		stage("a"),
		stage("b"),
		stage("c", "a", "b"),
		stage("d", "b"),
	}
	first, err := Build(stages)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		g, err := Build(stages)
		require.NoError(t, err)
		assert.Equal(t, first.Order(), g.Order())
	}
}

func TestBuildRejectsInvalidGraphs(t *testing.T) {
	tests := []struct {
		name   string
		stages []types.StageSpec
		want   error
	}{
		{
			name:   "unnamed stage",
			stages: []types.StageSpec{{Class: types.ClassBuild}},
			want:   ErrUnnamedStage,
		},
		{
			name:   "duplicate name",
			stages: []types.StageSpec{stage("build"), stage("build")},
			want:   ErrDuplicateStage,
		},
		{
			name:   "unknown dependency",
			stages: []types.StageSpec{stage("test", "build")},
			want:   ErrUnknownDependency,
		},
		{
			name:   "self dependency",
			stages: []types.StageSpec{stage("build", "build")},
			want:   ErrCycle,
		},
		{
			name: "two stage cycle",
			stages: []types.StageSpec{
				stage("a", "b"),
				stage("b", "a"),
			},
			want: ErrCycle,
		},
		{
			name: "cycle behind valid prefix",
			stages: []types.StageSpec{
				stage("build"),
				stage("a", "build", "c"),
				stage("b", "a"),
				stage("c", "b"),
			},
			want: ErrCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(tt.stages)
			assert.Nil(t, g)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCycleErrorNamesStuckStages(t *testing.T) {
	_, err := Build([]types.StageSpec{
		stage("ok"),
		stage("x", "y"),
		stage("y", "x"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x, y")
}
