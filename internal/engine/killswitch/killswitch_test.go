package killswitch

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePersister struct {
	saved State
	load  *State
}

func (p *fakePersister) SaveKillSwitch(s State) error {
	p.saved = s
	return nil
}

func (p *fakePersister) LoadKillSwitch() (*State, error) {
	return p.load, nil
}

func testConfig() Config {
	return Config{
		MaxDrawdownPct:            decimal.NewFromInt(20),
		MaxConsecutiveLosses:      3,
		ApiErrorThreshold:         5,
		SpreadViolationsLimit:     2,
		SpreadViolationsWindowMin: 10,
	}
}

func TestKillSwitch_InitLoadsPersistedTriggeredState(t *testing.T) {
	p := &fakePersister{load: &State{Triggered: true, Reason: "prior trip"}}
	k := New(testConfig(), p)
	require.NoError(t, k.Init())
	assert.True(t, k.IsTriggered())
	assert.Equal(t, "prior trip", k.State().Reason)
}

func TestKillSwitch_TriggerIsStickyAndOneShot(t *testing.T) {
	p := &fakePersister{}
	k := New(testConfig(), p)

	require.NoError(t, k.Trigger("first reason"))
	require.NoError(t, k.Trigger("second reason"))

	assert.True(t, k.IsTriggered())
	assert.Equal(t, "first reason", k.State().Reason)
}

func TestKillSwitch_ResetClearsState(t *testing.T) {
	p := &fakePersister{}
	k := New(testConfig(), p)
	require.NoError(t, k.Trigger("reason"))
	require.NoError(t, k.Reset())
	assert.False(t, k.IsTriggered())
	assert.Empty(t, k.State().Reason)
}

func TestKillSwitch_RecordTradeResultTripsAtThreshold(t *testing.T) {
	k := New(testConfig(), nil)
	require.NoError(t, k.RecordTradeResult(false))
	require.NoError(t, k.RecordTradeResult(false))
	assert.False(t, k.IsTriggered())
	require.NoError(t, k.RecordTradeResult(false))
	assert.True(t, k.IsTriggered())
}

func TestKillSwitch_RecordTradeResultResetsOnWin(t *testing.T) {
	k := New(testConfig(), nil)
	require.NoError(t, k.RecordTradeResult(false))
	require.NoError(t, k.RecordTradeResult(false))
	require.NoError(t, k.RecordTradeResult(true))
	require.NoError(t, k.RecordTradeResult(false))
	require.NoError(t, k.RecordTradeResult(false))
	assert.False(t, k.IsTriggered(), "win should have reset the consecutive-loss counter")
}

func TestKillSwitch_CheckDrawdownTripsAtOrAboveLimit(t *testing.T) {
	k := New(testConfig(), nil)
	err := k.CheckDrawdown(decimal.NewFromInt(80), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, k.IsTriggered())
}

func TestKillSwitch_CheckDrawdownIgnoresZeroPeak(t *testing.T) {
	k := New(testConfig(), nil)
	require.NoError(t, k.CheckDrawdown(decimal.NewFromInt(50), decimal.Zero))
	assert.False(t, k.IsTriggered())
}

func TestKillSwitch_RecordSpreadViolationTripsAtLimit(t *testing.T) {
	k := New(testConfig(), nil)
	require.NoError(t, k.RecordSpreadViolation())
	assert.False(t, k.IsTriggered())
	require.NoError(t, k.RecordSpreadViolation())
	assert.True(t, k.IsTriggered())
}

func TestKillSwitch_CheckApiErrorsTripsAtThreshold(t *testing.T) {
	k := New(testConfig(), nil)
	require.NoError(t, k.CheckApiErrors(4))
	assert.False(t, k.IsTriggered())
	require.NoError(t, k.CheckApiErrors(5))
	assert.True(t, k.IsTriggered())
}
