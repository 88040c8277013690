package types

import (
	"bytes"
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"

	"github.com/tanqiangyes/ref-fvm/pkg/constants"
)

// MessageVersion is the only message version the machine accepts.
const MessageVersion = 0

// Message is an exchange of information between two actors modeled
// as a function call.
type Message struct {
	Version uint64

	To   address.Address
	From address.Address
	// When receiving a message from a user account the nonce in
	// the message must match the expected nonce in the from actor.
	Nonce uint64

	Value abi.TokenAmount

	GasLimit   int64
	GasFeeCap  abi.TokenAmount
	GasPremium abi.TokenAmount

	Method abi.MethodNum
	Params []byte
}

// RequiredFunds is the amount withheld from the sender to cover gas.
func (msg *Message) RequiredFunds() abi.TokenAmount {
	return big.Mul(msg.GasFeeCap, big.NewInt(msg.GasLimit))
}

// Serialize returns the canonical encoding of the message.
func (msg *Message) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := msg.MarshalCBOR(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ChainLength is the length of the encoded message.
func (msg *Message) ChainLength() int {
	ser, err := msg.Serialize()
	if err != nil {
		panic(err)
	}
	return len(ser)
}

// Cid returns the canonical CID for the message.
func (msg *Message) Cid() (cid.Cid, error) {
	data, err := msg.Serialize()
	if err != nil {
		return cid.Undef, err
	}
	return constants.DefaultCidBuilder.Sum(data)
}

// ValidForBlockInclusion checks the fields that do not depend on state.
func (msg *Message) ValidForBlockInclusion() error {
	if msg.Version != MessageVersion {
		return fmt.Errorf("'Version' unsupported: %d", msg.Version)
	}
	if msg.To == address.Undef {
		return fmt.Errorf("'To' address cannot be empty")
	}
	if msg.From == address.Undef {
		return fmt.Errorf("'From' address cannot be empty")
	}
	if msg.Value.Int == nil || msg.Value.LessThan(big.Zero()) {
		return fmt.Errorf("'Value' field cannot be nil or negative")
	}
	if msg.GasFeeCap.Int == nil || msg.GasFeeCap.LessThan(big.Zero()) {
		return fmt.Errorf("'GasFeeCap' cannot be nil or negative")
	}
	if msg.GasPremium.Int == nil || msg.GasPremium.LessThan(big.Zero()) {
		return fmt.Errorf("'GasPremium' cannot be nil or negative")
	}
	if msg.GasPremium.GreaterThan(msg.GasFeeCap) {
		return fmt.Errorf("'GasFeeCap' less than 'GasPremium'")
	}
	if msg.GasLimit < 0 {
		return fmt.Errorf("'GasLimit' cannot be negative")
	}
	return nil
}

// DecodeMessage decodes a message from its canonical encoding. Malformed input
// yields a *DeserializationError.
func DecodeMessage(raw []byte) (*Message, error) {
	var msg Message
	r := bytes.NewReader(raw)
	if err := msg.UnmarshalCBOR(r); err != nil {
		return nil, &DeserializationError{Err: err}
	}
	if r.Len() != 0 {
		return nil, &DeserializationError{Err: fmt.Errorf("%d trailing bytes after message", r.Len())}
	}
	return &msg, nil
}

func (msg *Message) String() string {
	return fmt.Sprintf("Message{From: %s, To: %s, Nonce: %d, Method: %d, Value: %s, GasLimit: %d}",
		msg.From, msg.To, msg.Nonce, msg.Method, msg.Value, msg.GasLimit)
}
