package flake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeChainDirectDependent(t *testing.T) {
	deps := map[string][]string{
		"app": {"lib"},
	}

	chain, err := ComputeChain("lib", deps)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "app", chain[0].Repo)
	assert.Equal(t, []string{"lib"}, chain[0].Inputs)
}

func TestComputeChainTransitive(t *testing.T) {
	// base <- mid <- app, so pushing base updates mid first, then app.
	deps := map[string][]string{
		"mid": {"base"},
		"app": {"mid"},
	}

	chain, err := ComputeChain("base", deps)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "mid", chain[0].Repo)
	assert.Equal(t, []string{"base"}, chain[0].Inputs)
	assert.Equal(t, "app", chain[1].Repo)
	assert.Equal(t, []string{"mid"}, chain[1].Inputs)
}

func TestComputeChainDiamond(t *testing.T) {
	// app depends on both intermediates; it must update after both and
	// receive both as inputs in one step.
	deps := map[string][]string{
		"left":  {"base"},
		"right": {"base"},
		"app":   {"left", "right"},
	}

	chain, err := ComputeChain("base", deps)
	require.NoError(t, err)
	require.Len(t, chain, 3)

	// Independent repos come in name order.
	assert.Equal(t, "left", chain[0].Repo)
	assert.Equal(t, "right", chain[1].Repo)
	assert.Equal(t, "app", chain[2].Repo)
	assert.ElementsMatch(t, []string{"left", "right"}, chain[2].Inputs)
}

func TestComputeChainUnaffectedReposExcluded(t *testing.T) {
	deps := map[string][]string{
		"app":   {"lib"},
		"other": {"unrelated"},
	}

	chain, err := ComputeChain("lib", deps)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "app", chain[0].Repo)
}

func TestComputeChainNoDependents(t *testing.T) {
	deps := map[string][]string{
		"app": {"lib"},
	}

	chain, err := ComputeChain("app", deps)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestComputeChainDetectsCycle(t *testing.T) {
	deps := map[string][]string{
		"a": {"seed", "b"},
		"b": {"a"},
	}

	_, err := ComputeChain("seed", deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestComputeChainDeterministic(t *testing.T) {
	deps := map[string][]string{
		"a": {"base"},
		"b": {"base"},
		"c": {"base"},
		"z": {"a", "b", "c"},
	}

	first, err := ComputeChain("base", deps)
	require.NoError(t, err)
	for range 10 {
		again, err := ComputeChain("base", deps)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
