package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveConfig_ReplacesAndCountsRevisions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	loc, err := s.SaveConfig(ctx, "db", "settings", []byte(`{"v":1}`))
	require.NoError(t, err)
	assert.Equal(t, "db##settings", loc)

	_, err = s.SaveConfig(ctx, "db", "settings", []byte(`{"v":2}`))
	require.NoError(t, err)

	content, err := s.FindConfig(ctx, "db", "settings")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(content))

	all, err := s.FindAllConfigs(ctx, "settings")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(2), all[0].Revision)
}

func TestFindAllConfigs_OrderedByQualifier(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, q := range []string{"zeta", "alpha", "mid"} {
		_, err := s.SaveConfig(ctx, q, "settings", []byte(q))
		require.NoError(t, err)
	}
	_, err := s.SaveConfig(ctx, "alpha", "notes", []byte("ignored"))
	require.NoError(t, err)

	all, err := s.FindAllConfigs(ctx, "settings")
	require.NoError(t, err)

	var qualifiers []string
	for _, c := range all {
		qualifiers = append(qualifiers, c.Qualifier)
		assert.Equal(t, c.Qualifier, string(c.Content))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, qualifiers)
}

func TestClearConfigs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.SaveConfig(ctx, "db", "settings", []byte("x"))
	require.NoError(t, err)
	_, err = s.SaveConfig(ctx, "db", "notes", []byte("y"))
	require.NoError(t, err)
	_, err = s.SaveConfig(ctx, "keep", "settings", []byte("z"))
	require.NoError(t, err)

	require.NoError(t, s.ClearConfigs(ctx, "db"))

	_, err = s.FindConfig(ctx, "db", "settings")
	assert.ErrorIs(t, err, ErrConfigNotFound)
	_, err = s.FindConfig(ctx, "keep", "settings")
	assert.NoError(t, err)

	require.NoError(t, s.ClearConfigs(ctx, "db"), "clearing twice is fine")
}

func TestSaveConfig_RejectsIllegalLabels(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, label := range []string{"", "../escape", "a##b", "with space"} {
		_, err := s.SaveConfig(ctx, label, "settings", []byte("x"))
		var le *LabelError
		assert.ErrorAs(t, err, &le, label)
	}
	_, err := s.SaveConfig(ctx, "db", "bad name", []byte("x"))
	assert.Error(t, err)
}
