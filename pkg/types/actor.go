package types

import (
	"errors"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
)

// ErrActorNotFound is returned by lookups for addresses with no actor.
var ErrActorNotFound = errors.New("actor not found")

// ActorState is the on-chain record of a single actor.
type ActorState struct {
	// Code is the cid of the actor's code.
	Code cid.Cid
	// Head is the cid of the actor's state root.
	Head cid.Cid
	// Nonce is the number of messages sent by this actor.
	Nonce uint64
	// Balance is the attoFIL held by the actor.
	Balance abi.TokenAmount
}

// NewActor constructs a new actor state.
func NewActor(code cid.Cid, head cid.Cid, balance abi.TokenAmount) *ActorState {
	return &ActorState{
		Code:    code,
		Head:    head,
		Nonce:   0,
		Balance: balance,
	}
}

// IncrementSequence bumps the nonce of the actor.
func (a *ActorState) IncrementSequence() {
	a.Nonce++
}

// Deposit adds `amt` to the balance.
func (a *ActorState) Deposit(amt abi.TokenAmount) {
	a.Balance = big.Add(a.Balance, amt)
}

// Withdraw removes `amt` from the balance, returning false without change if
// the balance is too low.
func (a *ActorState) Withdraw(amt abi.TokenAmount) bool {
	if a.Balance.LessThan(amt) {
		return false
	}
	a.Balance = big.Sub(a.Balance, amt)
	return true
}

// Copy returns a copy that can be mutated independently.
func (a *ActorState) Copy() *ActorState {
	cp := *a
	cp.Balance = big.Add(big.Zero(), a.Balance)
	return &cp
}
