package backtest

import (
	"os"
	"path/filepath"
	"testing"

	"main/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTicksCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"1700000000000,BTCUSDT,100.5\n1700000001000,BTCUSDT,101\n",
	), 0o600))

	ticks, err := LoadTicksCSV(path)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, schema.Pair("BTCUSDT"), ticks[0].Pair)
	assert.Equal(t, schema.Price(100*schema.Scale+schema.Scale/2), ticks[0].Price)
	assert.Equal(t, int64(1_700_000_000_000_000_000), ticks[0].Ts)
}

func TestLoadTicksCSVRejectsBadRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte("not-a-number,BTCUSDT,100\n"), 0o600))
	_, err := LoadTicksCSV(path)
	require.Error(t, err)
}
