package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var parseNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestFromRecord(t *testing.T) {
	record := []byte(`{
		"page_uri": "https://example.org/articles/1",
		"useragent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		"tstamp_ms": 1717243200000,
		"mcid": ["m1", "m1", " m2 "],
		"domain_userid": ["d1"],
		"sso_guid": ["sso1"]
	}`)

	ev, err := FromRecord(record, parseNow)
	require.NoError(t, err)

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", ev.ID.String())
	assert.Equal(t, "https://example.org/articles/1", ev.URI)
	assert.Equal(t, time.UnixMilli(1717243200000).UTC(), ev.OccurredAt)
	assert.Equal(t, parseNow, ev.ReceivedAt)
	assert.Zero(t, ev.UserID)
	// Identifier sets arrive normalized.
	assert.Equal(t, []string{"m1", "m2"}, ev.Identifiers.MCID)
	assert.Equal(t, []string{"d1"}, ev.Identifiers.DomainUserID)
	assert.Equal(t, []string{"sso1"}, ev.Identifiers.SSOGUID)
}

func TestFromRecord_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		record string
	}{
		{name: "not json", record: `{{`},
		{name: "missing page_uri", record: `{"useragent": "Mozilla/5.0"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromRecord([]byte(tt.record), parseNow)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestFromRecord_Bot(t *testing.T) {
	record := []byte(`{
		"page_uri": "https://example.org/",
		"useragent": "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	}`)

	_, err := FromRecord(record, parseNow)
	assert.ErrorIs(t, err, ErrBot)
}

func TestFromRecord_NoTimestampFallsBackToNow(t *testing.T) {
	record := []byte(`{"page_uri": "https://example.org/"}`)

	ev, err := FromRecord(record, parseNow)
	require.NoError(t, err)
	assert.Equal(t, parseNow, ev.OccurredAt)
}

func TestResolved_DoesNotMutateOriginal(t *testing.T) {
	record := []byte(`{"page_uri": "https://example.org/", "mcid": ["m1"]}`)
	ev, err := FromRecord(record, parseNow)
	require.NoError(t, err)

	resolved := ev.Resolved(42)

	assert.Equal(t, int64(42), resolved.UserID)
	assert.Zero(t, ev.UserID)
	assert.Equal(t, ev.ID, resolved.ID)
}
