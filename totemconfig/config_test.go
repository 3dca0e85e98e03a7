package totemconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsNonPositiveDuration(t *testing.T) {
	cfg := Default()
	cfg.TokenTimeout = 0
	require.Error(t, cfg.Validate())
}

func TestHeartbeatEnabledInequality(t *testing.T) {
	cfg := Default()
	cfg.TokenTimeout = 500 * time.Millisecond
	cfg.HeartbeatFailuresAllowed = 3
	cfg.TokenRetransmitTimeout = 200 * time.Millisecond
	cfg.MaxNetworkDelay = 50 * time.Millisecond
	// 3*200ms+50ms = 650ms, not < 500ms
	require.False(t, cfg.HeartbeatEnabled())

	cfg.TokenTimeout = 2 * time.Second
	require.True(t, cfg.HeartbeatEnabled())
}

func TestStoreSetNotifiesListeners(t *testing.T) {
	s := NewStore(Default())
	var got Config
	s.OnReload(func(c Config) { got = c })

	next := Default()
	next.TokenTimeout = 5 * time.Second
	require.NoError(t, s.Set(next))
	require.Equal(t, 5*time.Second, got.TokenTimeout)
	require.Equal(t, 5*time.Second, s.Get().TokenTimeout)
}

func TestStoreSetRejectsInvalidConfig(t *testing.T) {
	s := NewStore(Default())
	bad := Default()
	bad.FailToRecvConst = 0
	require.Error(t, s.Set(bad))
	require.Equal(t, Default().FailToRecvConst, s.Get().FailToRecvConst)
}
