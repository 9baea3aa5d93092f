package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketgate/internal/arbitrage"
)

type fakeWriter struct {
	path        string
	contentType string
	data        []byte
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	f.path = path
	f.contentType = contentType
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.data = b
	return nil
}

func TestArchiveScanWritesJSONL(t *testing.T) {
	fw := &fakeWriter{}
	a := NewArchiver(fw)

	scannedAt := time.Date(2025, 1, 31, 15, 45, 2, 0, time.UTC)
	opps := []arbitrage.Opportunity{
		{PairID: "pair-1", Timestamp: scannedAt, ProfitPolyYesKalshiNo: 0.03},
		{PairID: "pair-2", Timestamp: scannedAt, ProfitKalshiYesPolyNo: 0.01},
	}

	path, err := a.ArchiveScan(context.Background(), scannedAt, opps)
	require.NoError(t, err)
	assert.Equal(t, "scans/2025-01-31/154502.jsonl", path)
	assert.Equal(t, "application/x-ndjson", fw.contentType)

	scanner := bufio.NewScanner(bytes.NewReader(fw.data))
	var lines []arbitrage.Opportunity
	for scanner.Scan() {
		var o arbitrage.Opportunity
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &o))
		lines = append(lines, o)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "pair-1", lines[0].PairID)
	assert.Equal(t, "pair-2", lines[1].PairID)
}

func TestArchiveScanSkipsEmpty(t *testing.T) {
	fw := &fakeWriter{}
	a := NewArchiver(fw)

	path, err := a.ArchiveScan(context.Background(), time.Now(), nil)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, fw.path)
}
