package appstate

import (
	"github.com/ethereum/go-ethereum/common"
)

const (
	TypeWalletConnected    = "wallet.connected"
	TypeWalletDisconnected = "wallet.disconnected"
	TypeAccountChanged     = "wallet.account.changed"
	TypeChainChanged       = "wallet.chain.changed"
	TypeEscrowConnected    = "escrow.connected"
	TypeEscrowDisconnected = "escrow.disconnected"
)

// Event is a discrete change in wallet or escrow connectivity.
type Event interface {
	EventType() string
	apply(*Snapshot)
}

// WalletConnected is dispatched once a wallet grants access to an account.
type WalletConnected struct {
	Address common.Address
	ChainID uint64
}

// EventType implements the Event interface.
func (WalletConnected) EventType() string { return TypeWalletConnected }

func (e WalletConnected) apply(s *Snapshot) {
	s.WalletConnected = true
	s.Address = e.Address
	s.setChain(e.ChainID)
}

// WalletDisconnected clears the wallet and, with it, the escrow session.
type WalletDisconnected struct{}

// EventType implements the Event interface.
func (WalletDisconnected) EventType() string { return TypeWalletDisconnected }

func (WalletDisconnected) apply(s *Snapshot) {
	*s = Snapshot{}
}

// AccountChanged switches the active account. The escrow identity belongs to
// the previous account and is dropped.
type AccountChanged struct {
	Address common.Address
}

// EventType implements the Event interface.
func (AccountChanged) EventType() string { return TypeAccountChanged }

func (e AccountChanged) apply(s *Snapshot) {
	if !s.WalletConnected {
		return
	}
	if s.Address != e.Address {
		s.EscrowConnected = false
		s.IdentityID = ""
	}
	s.Address = e.Address
}

// ChainChanged records a network switch in the wallet.
type ChainChanged struct {
	ChainID uint64
}

// EventType implements the Event interface.
func (ChainChanged) EventType() string { return TypeChainChanged }

func (e ChainChanged) apply(s *Snapshot) {
	if s.WalletConnected {
		s.setChain(e.ChainID)
	}
}

// EscrowConnected records the identity obtained from the escrow service.
type EscrowConnected struct {
	IdentityID string
}

// EventType implements the Event interface.
func (EscrowConnected) EventType() string { return TypeEscrowConnected }

func (e EscrowConnected) apply(s *Snapshot) {
	if !s.WalletConnected || e.IdentityID == "" {
		return
	}
	s.EscrowConnected = true
	s.IdentityID = e.IdentityID
}

// EscrowDisconnected drops the escrow session.
type EscrowDisconnected struct{}

// EventType implements the Event interface.
func (EscrowDisconnected) EventType() string { return TypeEscrowDisconnected }

func (EscrowDisconnected) apply(s *Snapshot) {
	s.EscrowConnected = false
	s.IdentityID = ""
}
