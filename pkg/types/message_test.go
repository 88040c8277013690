package types

import (
	"bytes"
	"errors"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tf "github.com/tanqiangyes/ref-fvm/pkg/testhelpers/testflags"
)

func newTestMessage(t *testing.T) *Message {
	from, err := address.NewIDAddress(100)
	require.NoError(t, err)
	to, err := address.NewSecp256k1Address([]byte("recipient"))
	require.NoError(t, err)

	return &Message{
		Version:    MessageVersion,
		To:         to,
		From:       from,
		Nonce:      7,
		Value:      abi.NewTokenAmount(1000),
		GasLimit:   1_000_000,
		GasFeeCap:  abi.NewTokenAmount(200),
		GasPremium: abi.NewTokenAmount(10),
		Method:     abi.MethodNum(3),
		Params:     []byte{0x82, 0x01, 0x02},
	}
}

func TestMessageEncoding(t *testing.T) {
	tf.UnitTest(t)

	msg := newTestMessage(t)
	raw, err := msg.Serialize()
	require.NoError(t, err)
	assert.Equal(t, len(raw), msg.ChainLength())

	decoded, err := DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, msg.From, decoded.From)
	assert.Equal(t, msg.To, decoded.To)
	assert.Equal(t, msg.Nonce, decoded.Nonce)
	assert.True(t, msg.Value.Equals(decoded.Value))
	assert.Equal(t, msg.GasLimit, decoded.GasLimit)
	assert.Equal(t, msg.Params, decoded.Params)

	c1, err := msg.Cid()
	require.NoError(t, err)
	c2, err := decoded.Cid()
	require.NoError(t, err)
	assert.True(t, c1.Equals(c2))
}

func TestDecodeMessageMalformed(t *testing.T) {
	tf.UnitTest(t)

	raw, err := newTestMessage(t).Serialize()
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":     {},
		"truncated": raw[:len(raw)-2],
		"not array": {0x01},
		"trailing":  append(append([]byte{}, raw...), 0x00),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMessage(in)
			require.Error(t, err)
			var de *DeserializationError
			assert.True(t, errors.As(err, &de))
		})
	}
}

func TestMessageValidForBlockInclusion(t *testing.T) {
	tf.UnitTest(t)

	msg := newTestMessage(t)
	assert.NoError(t, msg.ValidForBlockInclusion())

	bad := *msg
	bad.GasPremium = big.Add(msg.GasFeeCap, big.NewInt(1))
	assert.Error(t, bad.ValidForBlockInclusion())

	bad = *msg
	bad.Value = big.NewInt(-1)
	assert.Error(t, bad.ValidForBlockInclusion())

	bad = *msg
	bad.GasLimit = -1
	assert.Error(t, bad.ValidForBlockInclusion())
}

func TestRequiredFunds(t *testing.T) {
	tf.UnitTest(t)

	msg := newTestMessage(t)
	assert.Equal(t, big.NewInt(200_000_000), msg.RequiredFunds())
}

func TestReceiptEncoding(t *testing.T) {
	tf.UnitTest(t)

	rcpt := MessageReceipt{ExitCode: 16, Return: []byte("ret"), GasUsed: 1234}
	buf := new(bytes.Buffer)
	require.NoError(t, rcpt.MarshalCBOR(buf))

	var out MessageReceipt
	require.NoError(t, out.UnmarshalCBOR(buf))
	assert.Equal(t, rcpt, out)
}
