package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind_Exact(t *testing.T) {
	out := Find("perez, ethel", []string{"smith, john", "Perez,  Ethel"})
	require.True(t, out.OK)
	assert.Equal(t, StrategyExact, out.Result.Strategy)
	assert.Equal(t, 1, out.Result.Index)
}

func TestFind_TokenSubset(t *testing.T) {
	t.Run("middle initial does not block a match", func(t *testing.T) {
		out := Find("smith, john", []string{"Smith, John A.", "Perez, Ethel"})
		require.True(t, out.OK)
		assert.Equal(t, StrategyTokenSubset, out.Result.Strategy)
		assert.Equal(t, "Smith, John A.", out.Result.Value)
	})

	t.Run("extra candidate surname blocks subset", func(t *testing.T) {
		// Every target token must appear in the candidate, but the reverse
		// is not required: "perez pinker" carries all of ethel perez's
		// tokens only when both appear.
		out := Find("perez, ethel", []string{"Perez Pinker, Ana"})
		assert.False(t, out.OK)
	})

	t.Run("jane never matches john", func(t *testing.T) {
		out := Find("smith, john", []string{"Smith, Jane"})
		assert.False(t, out.OK)
	})

	t.Run("two subset hits escalate as ambiguous", func(t *testing.T) {
		out := Find("smith, john", []string{"Smith, John A.", "Smith, John B."})
		assert.False(t, out.OK)
		assert.True(t, out.Ambiguous)
	})
}

func TestFind_LastNameOnly(t *testing.T) {
	t.Run("single surname candidate accepted", func(t *testing.T) {
		// Roster first name is a nickname; record system has the full name.
		out := Find("okafor, sam", []string{"Okafor, Samantha", "Perez, Ethel"})
		require.True(t, out.OK)
		assert.Equal(t, StrategyLastName, out.Result.Strategy)
	})

	t.Run("multiple surname candidates are ambiguous", func(t *testing.T) {
		out := Find("okafor, sam", []string{"Okafor, Samantha", "Okafor, Samuel"})
		assert.False(t, out.OK)
		assert.True(t, out.Ambiguous)
	})

	t.Run("conflicting first name is no match, not ambiguity", func(t *testing.T) {
		out := Find("smith, john", []string{"Smith, Jane", "Perez, Ethel"})
		assert.False(t, out.OK)
		assert.False(t, out.Ambiguous)
	})
}

func TestFind_NoCandidates(t *testing.T) {
	out := Find("perez, ethel", nil)
	assert.False(t, out.OK)
	assert.False(t, out.Ambiguous)
}

func TestStrategyConfidence(t *testing.T) {
	assert.Greater(t, StrategyExact.Confidence(), StrategyTokenSubset.Confidence())
	assert.Greater(t, StrategyTokenSubset.Confidence(), StrategyLastName.Confidence())
	assert.Equal(t, 0.0, Strategy("bogus").Confidence())
}
