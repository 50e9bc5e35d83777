package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestJournalRotatesDaily(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "audit")
	require.NoError(t, err)
	defer j.Close()

	now := time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC)
	j.now = func() time.Time { return now }

	require.NoError(t, j.Record(Entry{Type: KindSellSubmitted, TradeID: "T1"}))
	now = now.Add(2 * time.Second)
	require.NoError(t, j.Record(Entry{Type: KindSellAccepted, TradeID: "T1", OrderID: "S1"}))

	day1 := readLines(t, filepath.Join(dir, "audit-2024-03-01.jsonl"))
	require.Len(t, day1, 1)
	assert.Equal(t, "T1", day1[0].TradeID)
	assert.Equal(t, "2024-03-01T23:59:59Z", day1[0].Ts)

	day2 := readLines(t, filepath.Join(dir, "audit-2024-03-02.jsonl"))
	require.Len(t, day2, 1)
	assert.Equal(t, KindSellAccepted, day2[0].Type)
	assert.Equal(t, "S1", day2[0].OrderID)
}

func TestNilJournalDiscards(t *testing.T) {
	var j *Journal
	assert.NoError(t, j.Record(Entry{Type: KindFillRejected}))
	assert.NoError(t, j.Close())
}
