// Package appstate tracks wallet and escrow connectivity as an explicit
// state object updated by discrete events.
package appstate

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"parcelmint/chain"
	"parcelmint/observability"
)

// Snapshot is an immutable view of the application state.
type Snapshot struct {
	WalletConnected  bool           `json:"walletConnected"`
	Address          common.Address `json:"address"`
	ChainID          uint64         `json:"chainId"`
	Network          chain.Network  `json:"network,omitempty"`
	NetworkSupported bool           `json:"networkSupported"`
	EscrowConnected  bool           `json:"escrowConnected"`
	IdentityID       string         `json:"identityId,omitempty"`
}

func (s *Snapshot) setChain(chainID uint64) {
	s.ChainID = chainID
	network, err := chain.NetworkForChainID(new(big.Int).SetUint64(chainID))
	s.Network = network
	s.NetworkSupported = err == nil
}

// Ready reports whether workflows may run: a wallet on a supported network
// with an escrow session.
func (s Snapshot) Ready() bool {
	return s.WalletConnected && s.NetworkSupported && s.EscrowConnected
}

// State holds the current Snapshot and fans changes out to subscribers.
type State struct {
	mu      sync.Mutex
	current Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// New returns a disconnected state.
func New() *State {
	return &State{subs: make(map[int]chan Snapshot)}
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Dispatch applies ev and notifies subscribers when the state changed.
func (s *State) Dispatch(ev Event) Snapshot {
	observability.Events().RecordEvent(ev.EventType())
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current
	ev.apply(&next)
	if next == s.current {
		return next
	}
	s.current = next
	for _, ch := range s.subs {
		// Subscribers only care about the latest state; replace anything stale.
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	return next
}

// Subscribe returns a channel that always holds the most recent unseen
// Snapshot, primed with the current one, and a function that ends the
// subscription.
func (s *State) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- s.current
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}
