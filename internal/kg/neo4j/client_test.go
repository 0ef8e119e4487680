package neo4j

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intent-curator/backend/internal/events"
	"github.com/intent-curator/backend/pkg/utils"
)

func TestProvenanceParaphrase(t *testing.T) {
	at := time.Unix(1700000000, 0)
	stmt, ok := provenance(events.Event{
		RunID: "run-1", Kind: events.KindAccepted, Time: at,
		Text: "这个月扣了我多少", Seed: "查话费",
	})
	require.True(t, ok)
	assert.Contains(t, stmt.cypher, "PARAPHRASE_OF")
	assert.Equal(t, utils.Fingerprint("这个月扣了我多少"), stmt.params["fingerprint"])
	assert.Equal(t, utils.Fingerprint("查话费"), stmt.params["seed_fingerprint"])
	assert.Equal(t, "run-1", stmt.params["run_id"])
	assert.Equal(t, at.Unix(), stmt.params["accepted_at"])
}

func TestProvenanceSeedOnly(t *testing.T) {
	stmt, ok := provenance(events.Event{Kind: events.KindAccepted, Text: "查话费"})
	require.True(t, ok)
	assert.NotContains(t, stmt.cypher, "PARAPHRASE_OF")
	assert.NotContains(t, stmt.params, "seed_fingerprint")

	stmt, ok = provenance(events.Event{Kind: events.KindAccepted, Text: "查话费", Seed: "查话费"})
	require.True(t, ok)
	assert.NotContains(t, stmt.cypher, "PARAPHRASE_OF")
}

func TestProvenanceIgnoresOtherEvents(t *testing.T) {
	for _, e := range []events.Event{
		{Kind: events.KindRejected, Text: "x"},
		{Kind: events.KindSubmitted},
		{Kind: events.KindAccepted},
	} {
		_, ok := provenance(e)
		assert.False(t, ok, e.Kind)
	}
}
