package gas

import (
	"sort"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/network"

	"github.com/tanqiangyes/ref-fvm/pkg/constants"
)

// MethodSend is the bare value transfer method.
const MethodSend = abi.MethodNum(0)

// Pricelist provides prices for operations in the machine.
type Pricelist interface {
	// OnChainMessage returns the gas used for storing a message of a given size in the chain.
	OnChainMessage(msgSize int) GasCharge
	// OnChainReturnValue returns the gas used for storing the response of a message in the chain.
	OnChainReturnValue(dataSize int) GasCharge

	// OnMethodInvocation returns the gas used when invoking a method.
	OnMethodInvocation(value abi.TokenAmount, methodNum abi.MethodNum) GasCharge

	// OnIpldGet returns the gas used for reading a block of the given size.
	OnIpldGet(dataSize int) GasCharge
	// OnIpldPut returns the gas used for storing a block of the given size.
	OnIpldPut(dataSize int) GasCharge

	// OnCreateActor returns the gas used for creating an actor
	OnCreateActor() GasCharge
	// OnDeleteActor returns the gas used for deleting an actor
	OnDeleteActor() GasCharge

	OnResolveAddress() GasCharge
	OnGetActorCodeCid() GasCharge
	OnNewActorAddress() GasCharge
	OnGetRandomness(entropySize int) GasCharge
	OnHashing(dataSize int) GasCharge
	OnVerifyConsensusFault() GasCharge

	// SignatureOverhead is the number of bytes added to the on-chain size of
	// a message sent by `protocol` whose signature is not part of its encoding.
	SignatureOverhead(protocol address.Protocol) int
}

type pricelistV0 struct {
	storageGasMulti int64
	///////////////////////////////////////////////////////////////////////////
	// System operations
	///////////////////////////////////////////////////////////////////////////

	// Gas cost charged to the originator of an on-chain message (regardless of
	// whether it succeeds or fails in application) is given by:
	//   OnChainMessageBase + len(serialized message)*OnChainMessagePerByte
	// Together, these account for the cost of message propagation and validation,
	// up to but excluding any actual processing by the VM.
	// This is the cost a block producer burns when including an invalid message.
	onChainMessageComputeBase    int64
	onChainMessageStorageBase    int64
	onChainMessageStoragePerByte int64

	// Gas cost charged to the originator of a non-nil return value produced
	// by an on-chain message is given by:
	//   len(return value)*OnChainReturnValuePerByte
	onChainReturnValuePerByte int64

	// Gas cost for any message send execution(including the top-level one
	// initiated by an on-chain message).
	// This accounts for the cost of loading sender and receiver actors and
	// (for top-level messages) incrementing the sender's sequence number.
	// Load and store of actor sub-state is charged separately.
	sendBase int64

	// Gas cost charged, in addition to SendBase, if a message send
	// is accompanied by any nonzero currency amount.
	// Accounts for writing receiver's new balance (the sender's state is
	// already accounted for).
	sendTransferFunds int64

	// Gsa cost charged, in addition to SendBase, if message only transfers funds.
	sendTransferOnlyPremium int64

	// Gas cost charged, in addition to SendBase, if a message invokes
	// a method on the receiver.
	// Accounts for the cost of loading receiver code and method dispatch.
	sendInvokeMethod int64

	// Gas cost for any Get operation to the IPLD store
	// in the runtime VM context.
	ipldGetBase    int64
	ipldGetPerByte int64

	// Gas cost (Base + len*PerByte) for any Put operation to the IPLD store
	// in the runtime VM context.
	//
	// Note: these costs should be significantly higher than the costs for Get
	// operations, since they reflect not only serialization/deserialization
	// but also persistent storage of chain data.
	ipldPutBase    int64
	ipldPutPerByte int64

	// Gas cost for creating a new actor (via InitActor's Exec method).
	//
	// Note: this costs assume that the extra will be partially or totally refunded while
	// the base is covering for the put.
	createActorCompute int64
	createActorStorage int64

	// Gas cost for deleting an actor.
	//
	// Note: this partially refunds the create cost to incentivise the deletion of the actors.
	deleteActor int64

	// Flat costs of the actor lookup syscalls.
	resolveAddressBase  int64
	getActorCodeCidBase int64
	newActorAddressBase int64

	getRandomnessBase    int64
	getRandomnessPerByte int64

	hashingBase          int64
	hashingPerByte       int64
	verifyConsensusFault int64

	secpSignatureOverhead int
}

var _ Pricelist = (*pricelistV0)(nil)

// OnChainMessage returns the gas used for storing a message of a given size in the chain.
func (pl *pricelistV0) OnChainMessage(msgSize int) GasCharge {
	return NewGasCharge("OnChainMessage", pl.onChainMessageComputeBase,
		(pl.onChainMessageStorageBase+pl.onChainMessageStoragePerByte*int64(msgSize))*pl.storageGasMulti)
}

// OnChainReturnValue returns the gas used for storing the response of a message in the chain.
func (pl *pricelistV0) OnChainReturnValue(dataSize int) GasCharge {
	return NewGasCharge("OnChainReturnValue", 0, int64(dataSize)*pl.onChainReturnValuePerByte*pl.storageGasMulti)
}

// OnMethodInvocation returns the gas used when invoking a method.
func (pl *pricelistV0) OnMethodInvocation(value abi.TokenAmount, methodNum abi.MethodNum) GasCharge {
	ret := pl.sendBase
	extra := ""

	if big.Cmp(value, abi.NewTokenAmount(0)) != 0 {
		ret += pl.sendTransferFunds
		if methodNum == MethodSend {
			// transfer only
			ret += pl.sendTransferOnlyPremium
		}
		extra += "t"
	}

	if methodNum != MethodSend {
		extra += "i"
		// running actors is cheaper becase we hand over to actors
		ret += pl.sendInvokeMethod
	}
	return NewGasCharge("OnMethodInvocation", ret, 0).WithExtra(extra)
}

// OnIpldGet returns the gas used for reading a block.
func (pl *pricelistV0) OnIpldGet(dataSize int) GasCharge {
	return NewGasCharge("OnIpldGet", pl.ipldGetBase+int64(dataSize)*pl.ipldGetPerByte, 0).WithExtra(dataSize)
}

// OnIpldPut returns the gas used for storing a block.
func (pl *pricelistV0) OnIpldPut(dataSize int) GasCharge {
	return NewGasCharge("OnIpldPut", pl.ipldPutBase, int64(dataSize)*pl.ipldPutPerByte*pl.storageGasMulti).
		WithExtra(dataSize)
}

// OnCreateActor returns the gas used for creating an actor
func (pl *pricelistV0) OnCreateActor() GasCharge {
	return NewGasCharge("OnCreateActor", pl.createActorCompute, pl.createActorStorage*pl.storageGasMulti)
}

// OnDeleteActor returns the gas used for deleting an actor
func (pl *pricelistV0) OnDeleteActor() GasCharge {
	return NewGasCharge("OnDeleteActor", 0, pl.deleteActor*pl.storageGasMulti)
}

func (pl *pricelistV0) OnResolveAddress() GasCharge {
	return NewGasCharge("OnResolveAddress", pl.resolveAddressBase, 0)
}

func (pl *pricelistV0) OnGetActorCodeCid() GasCharge {
	return NewGasCharge("OnGetActorCodeCid", pl.getActorCodeCidBase, 0)
}

func (pl *pricelistV0) OnNewActorAddress() GasCharge {
	return NewGasCharge("OnNewActorAddress", pl.newActorAddressBase, 0)
}

func (pl *pricelistV0) OnGetRandomness(entropySize int) GasCharge {
	return NewGasCharge("OnGetRandomness", pl.getRandomnessBase+int64(entropySize)*pl.getRandomnessPerByte, 0)
}

// OnHashing returns the gas used for hashing `dataSize` bytes.
func (pl *pricelistV0) OnHashing(dataSize int) GasCharge {
	return NewGasCharge("OnHashing", pl.hashingBase+int64(dataSize)*pl.hashingPerByte, 0).WithExtra(dataSize)
}

// OnVerifyConsensusFault returns the fixed part of the fault verification cost.
func (pl *pricelistV0) OnVerifyConsensusFault() GasCharge {
	return NewGasCharge("OnVerifyConsensusFault", pl.verifyConsensusFault, 0)
}

func (pl *pricelistV0) SignatureOverhead(protocol address.Protocol) int {
	if protocol == address.SECP256K1 {
		return pl.secpSignatureOverhead
	}
	return 0
}

type pricelistEntry struct {
	version network.Version
	prices  Pricelist
}

// PricesSchedule selects the price list in force for a network version.
type PricesSchedule struct {
	entries []pricelistEntry
}

// NewPricesSchedule builds the schedule of the default price lists.
func NewPricesSchedule() *PricesSchedule {
	genesis := &pricelistV0{
		storageGasMulti:              1000,
		onChainMessageComputeBase:    38863,
		onChainMessageStorageBase:    36,
		onChainMessageStoragePerByte: 1,
		onChainReturnValuePerByte:    1,
		sendBase:                     29233,
		sendTransferFunds:            27500,
		sendTransferOnlyPremium:      159672,
		sendInvokeMethod:             -5377,
		ipldGetBase:                  75242,
		ipldPutBase:                  84070,
		ipldPutPerByte:               1,
		createActorCompute:           1108454,
		createActorStorage:           36 + 40,
		deleteActor:                  -(36 + 40),
		hashingBase:                  31355,
		verifyConsensusFault:         495422,
		secpSignatureOverhead:        constants.SecpSignatureOverhead,
	}

	calico := *genesis
	calico.storageGasMulti = 1300
	calico.ipldGetBase = 114617
	calico.ipldPutBase = 353640

	skyr := calico
	skyr.ipldGetPerByte = 10
	skyr.resolveAddressBase = 1500
	skyr.getActorCodeCidBase = 1500
	skyr.newActorAddressBase = 1500
	skyr.getRandomnessBase = 5000
	skyr.getRandomnessPerByte = 10
	skyr.hashingPerByte = 10

	return NewPricesScheduleFromEntries(map[network.Version]Pricelist{
		network.Version0:  genesis,
		network.Version7:  &calico,
		network.Version16: &skyr,
	})
}

// NewPricesScheduleFromEntries builds a schedule from price lists keyed by
// the first network version they apply to.
func NewPricesScheduleFromEntries(lists map[network.Version]Pricelist) *PricesSchedule {
	entries := make([]pricelistEntry, 0, len(lists))
	for ver, pl := range lists {
		entries = append(entries, pricelistEntry{version: ver, prices: pl})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].version < entries[j].version
	})
	return &PricesSchedule{entries: entries}
}

// PricelistByVersion finds the latest prices for the given network version
func (schedule *PricesSchedule) PricelistByVersion(nv network.Version) Pricelist {
	for i := len(schedule.entries) - 1; i >= 0; i-- {
		if schedule.entries[i].version <= nv {
			return schedule.entries[i].prices
		}
	}
	panic("bad setup: no gas prices available for version")
}
