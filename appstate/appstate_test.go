package appstate

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"parcelmint/chain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestLifecycle(t *testing.T) {
	s := New()
	require.False(t, s.Snapshot().Ready())

	snap := s.Dispatch(WalletConnected{Address: alice, ChainID: 0xa515})
	require.True(t, snap.WalletConnected)
	require.Equal(t, chain.EmeraldTestnet, snap.Network)
	require.True(t, snap.NetworkSupported)
	require.False(t, snap.Ready())

	snap = s.Dispatch(EscrowConnected{IdentityID: "I1"})
	require.True(t, snap.Ready())

	snap = s.Dispatch(ChainChanged{ChainID: 1})
	require.False(t, snap.NetworkSupported)
	require.False(t, snap.Ready())
	require.True(t, snap.EscrowConnected)

	snap = s.Dispatch(ChainChanged{ChainID: 0xa516})
	require.Equal(t, chain.EmeraldMainnet, snap.Network)
	require.True(t, snap.Ready())

	snap = s.Dispatch(AccountChanged{Address: bob})
	require.Equal(t, bob, snap.Address)
	require.False(t, snap.EscrowConnected)
	require.Empty(t, snap.IdentityID)

	snap = s.Dispatch(WalletDisconnected{})
	require.Equal(t, Snapshot{}, snap)
}

func TestEventsIgnoredWhileDisconnected(t *testing.T) {
	s := New()
	require.Equal(t, Snapshot{}, s.Dispatch(EscrowConnected{IdentityID: "I1"}))
	require.Equal(t, Snapshot{}, s.Dispatch(ChainChanged{ChainID: 0xa515}))
	require.Equal(t, Snapshot{}, s.Dispatch(AccountChanged{Address: alice}))
}

func TestSubscribeReceivesLatest(t *testing.T) {
	s := New()
	updates, cancel := s.Subscribe()
	require.Equal(t, Snapshot{}, <-updates)

	s.Dispatch(WalletConnected{Address: alice, ChainID: 1337})
	s.Dispatch(EscrowConnected{IdentityID: "I1"})
	latest := <-updates
	require.Equal(t, "I1", latest.IdentityID)
	require.True(t, latest.Ready())

	// Unchanged state does not notify.
	s.Dispatch(EscrowConnected{IdentityID: "I1"})
	select {
	case snap := <-updates:
		t.Fatalf("unexpected update %+v", snap)
	default:
	}

	cancel()
	cancel()
	_, open := <-updates
	require.False(t, open)
}
