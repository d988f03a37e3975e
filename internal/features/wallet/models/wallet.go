package models

import (
	"math/big"
	"time"
)

// Kind selects the wallet transport.
type Kind string

const (
	// KindInjected is a signer living inside the host, like a browser extension.
	KindInjected Kind = "injected"
	// KindRelay talks to a remote wallet through a relay session.
	KindRelay Kind = "relay"
)

// ParseKind accepts the transport kinds and the provider ids shown in the UI.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case string(KindInjected), "metamask", "coinbase":
		return KindInjected, true
	case string(KindRelay), "walletconnect":
		return KindRelay, true
	}
	return "", false
}

// Status of the connection lifecycle.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Connection is the live wallet connection.
type Connection struct {
	Address      string    `json:"address"`
	ChainID      int64     `json:"chain_id"`
	Balance      *big.Int  `json:"balance"`
	BalanceEther string    `json:"balance_ether"`
	Provider     Kind      `json:"provider"`
	Connected    bool      `json:"connected"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// Clone returns a copy safe to hand out.
func (c *Connection) Clone() *Connection {
	if c == nil {
		return nil
	}
	out := *c
	if c.Balance != nil {
		out.Balance = new(big.Int).Set(c.Balance)
	}
	return &out
}

// State is a snapshot of the manager.
type State struct {
	Status     Status      `json:"status"`
	Connection *Connection `json:"connection,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// EventType names the wallet events the manager reacts to.
type EventType string

const (
	EventAccountsChanged EventType = "accountsChanged"
	EventChainChanged    EventType = "chainChanged"
	EventDisconnect      EventType = "disconnect"
	EventSessionExpire   EventType = "session_expire"
	EventSessionDelete   EventType = "session_delete"
	EventSessionReject   EventType = "session_reject"
)

// Ends reports whether the event ends the session.
func (t EventType) Ends() bool {
	switch t {
	case EventDisconnect, EventSessionExpire, EventSessionDelete, EventSessionReject:
		return true
	}
	return false
}

// Event is emitted by a transport.
type Event struct {
	Type     EventType
	Accounts []string
	ChainID  int64
}
