package facts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/models"
)

func TestLoadVocabularies_EmbeddedProfiles(t *testing.T) {
	set, err := LoadVocabularies(arbor.NewLogger(), "")
	require.NoError(t, err)

	for _, profile := range []models.ExtractionProfile{
		models.ProfileGeneral, models.ProfileVC, models.ProfilePharma, models.ProfileInsurance,
	} {
		vocab, err := set.Get(profile)
		require.NoError(t, err, "profile %s must be embedded", profile)
		assert.Equal(t, string(profile), vocab.Profile)
		assert.NotEmpty(t, vocab.Version)
		assert.NotEmpty(t, vocab.Through(1).Predicates)
	}

	_, err = set.Get("astrology")
	assert.Error(t, err)
}

func TestVocabulary_ThroughIsMonotone(t *testing.T) {
	set, err := LoadVocabularies(arbor.NewLogger(), "")
	require.NoError(t, err)
	vocab, err := set.Get(models.ProfileVC)
	require.NoError(t, err)

	for level := 2; level <= models.ExtractionLevelMax; level++ {
		lower := vocab.Through(level - 1)
		higher := vocab.Through(level)

		lowerSet := map[string]bool{}
		for _, p := range lower.Predicates {
			lowerSet[p] = true
		}
		higherSet := map[string]bool{}
		for _, p := range higher.Predicates {
			higherSet[p] = true
		}
		for p := range lowerSet {
			assert.True(t, higherSet[p], "level %d must keep predicate %q from level %d", level, p, level-1)
		}
		assert.GreaterOrEqual(t, len(higher.Predicates), len(lower.Predicates))
	}

	// Risk types only appear from level 2 up.
	assert.Empty(t, vocab.Through(1).RiskTypes)
	assert.NotEmpty(t, vocab.Through(2).RiskTypes)
}

func TestLoadVocabularies_DirOverride(t *testing.T) {
	dir := t.TempDir()
	override := `profile: vc
version: "custom.7"
levels:
  - level: 1
    predicates: [custom_predicate]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vc.yaml"), []byte(override), 0o644))

	set, err := LoadVocabularies(arbor.NewLogger(), dir)
	require.NoError(t, err)

	vocab, err := set.Get(models.ProfileVC)
	require.NoError(t, err)
	assert.Equal(t, "custom.7", vocab.Version)
	assert.Equal(t, []string{"custom_predicate"}, vocab.Through(4).Predicates)

	// Untouched profiles keep their embedded vocabulary.
	general, err := set.Get(models.ProfileGeneral)
	require.NoError(t, err)
	assert.Equal(t, "2026.1", general.Version)
}

func TestLoadVocabularies_RejectsBrokenOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("profile: bad\nversion: \"1\"\nlevels:\n  - level: 9\n"), 0o644))

	_, err := LoadVocabularies(arbor.NewLogger(), dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("{not yaml"), 0o644))
	_, err = LoadVocabularies(arbor.NewLogger(), dir)
	assert.Error(t, err)
}
