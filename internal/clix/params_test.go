package clix

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustler/internal/models"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("limit", 20, "")
	flags.Int("offset", 0, "")
	flags.String("status", "", "")
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestParsePagination(t *testing.T) {
	p, err := ParsePagination(newFlags(t, "--limit", "5", "--offset", "10"))
	require.NoError(t, err)
	assert.Equal(t, PaginationParams{Limit: 5, Offset: 10}, p)

	p, err = ParsePagination(newFlags(t, "--limit", "0", "--offset", "-3"))
	require.NoError(t, err)
	assert.Equal(t, PaginationParams{Limit: 20, Offset: 0}, p)
}

func TestParseStatuses(t *testing.T) {
	statuses, err := ParseStatuses(newFlags(t, "--status", " Pending, failed,,pending "))
	require.NoError(t, err)
	assert.Equal(t, []models.FileStatus{models.StatusPending, models.StatusFailed}, statuses)

	statuses, err = ParseStatuses(newFlags(t))
	require.NoError(t, err)
	assert.Empty(t, statuses)

	_, err = ParseStatusList("pending,archived")
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.ErrorContains(t, err, "want one of pending, processing, completed, failed")
}
