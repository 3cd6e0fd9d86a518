package candles

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommyca/spotengine/internal/engine/types"
)

func bar(openTime time.Time, close float64) types.Candle {
	c := decimal.NewFromFloat(close)
	return types.Candle{OpenTime: openTime, Open: c, High: c, Low: c, Close: c, Volume: decimal.NewFromInt(1)}
}

func TestStore_UpsertIsIdempotentOnOpenTime(t *testing.T) {
	s := New()
	base := time.Now().Add(-time.Minute)

	require.NoError(t, s.Upsert("BTCUSD", "1m", bar(base, 100)))
	require.NoError(t, s.Upsert("BTCUSD", "1m", bar(base, 105))) // replaces, not appends

	recent, err := s.GetRecent("BTCUSD", "1m", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Close.Equal(decimal.NewFromFloat(105)))
}

func TestStore_UpsertRejectsInvalidCandle(t *testing.T) {
	s := New()
	invalid := types.Candle{
		OpenTime: time.Now(),
		Open:     decimal.NewFromInt(10),
		High:     decimal.NewFromInt(5), // high below open: invalid
		Low:      decimal.NewFromInt(1),
		Close:    decimal.NewFromInt(10),
		Volume:   decimal.NewFromInt(1),
	}
	err := s.Upsert("BTCUSD", "1m", invalid)
	assert.Error(t, err)
}

func TestStore_GetRecentOrdersAscendingAndCaps(t *testing.T) {
	s := New()
	now := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Upsert("ETHUSD", "1m", bar(now.Add(time.Duration(i)*time.Minute), float64(100+i))))
	}

	recent, err := s.GetRecent("ETHUSD", "1m", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.True(t, recent[0].OpenTime.Before(recent[1].OpenTime))
	assert.True(t, recent[1].OpenTime.Before(recent[2].OpenTime))
	assert.True(t, recent[2].Close.Equal(decimal.NewFromFloat(104)))
}

func TestStore_GetRecentDetectsStaleFeed(t *testing.T) {
	s := New()
	s.RegisterInterval("1m", time.Minute)
	require.NoError(t, s.Upsert("BTCUSD", "1m", bar(time.Now().Add(-time.Hour), 100)))

	_, err := s.GetRecent("BTCUSD", "1m", 10)
	assert.ErrorIs(t, err, ErrStaleFeed)
}

func TestStore_GetRecentEmptySymbolReturnsNil(t *testing.T) {
	s := New()
	recent, err := s.GetRecent("UNKNOWN", "1m", 5)
	require.NoError(t, err)
	assert.Nil(t, recent)
}
