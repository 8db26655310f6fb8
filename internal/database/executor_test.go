package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurrealTimestamp_FixedWidthFraction(t *testing.T) {
	// RFC3339Nano trims trailing fraction zeros, which breaks lexical
	// ordering when one fraction is a prefix of the other. The fixed-width
	// layout keeps string order temporal.
	earlier := time.Date(2026, 3, 1, 12, 0, 0, 120_000_000, time.UTC)
	later := time.Date(2026, 3, 1, 12, 0, 0, 123_000_000, time.UTC)

	// The trimmed encoding inverts: "…0.12Z" > "…0.123Z" lexically.
	require.Greater(t, earlier.Format(time.RFC3339Nano), later.Format(time.RFC3339Nano))

	assert.Less(t, surrealTimestamp(earlier), surrealTimestamp(later))
	assert.Equal(t, "2026-03-01T12:00:00.120000000Z", surrealTimestamp(earlier))
}

func TestSurrealTimestamp_NormalizesToUTC(t *testing.T) {
	zone := time.FixedZone("CET", 3600)
	local := time.Date(2026, 3, 1, 13, 0, 0, 0, zone)

	encoded := surrealTimestamp(local)
	assert.Equal(t, "2026-03-01T12:00:00.000000000Z", encoded)

	parsed, err := time.Parse(time.RFC3339Nano, encoded)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(local))
}
