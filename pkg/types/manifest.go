package types

import (
	"github.com/ipfs/go-cid"
)

// Names of the builtin actors in a manifest.
const (
	AccountKey  = "account"
	CronKey     = "cron"
	InitKey     = "init"
	MarketKey   = "storagemarket"
	MinerKey    = "storageminer"
	MultisigKey = "multisig"
	PaychKey    = "paymentchannel"
	PowerKey    = "storagepower"
	RewardKey   = "reward"
	SystemKey   = "system"
	VerifregKey = "verifiedregistry"
)

// ManifestVersion is the only manifest layout understood by the machine.
const ManifestVersion = 1

// Manifest points at the table of builtin actor code cids.
type Manifest struct {
	Version uint64
	Data    cid.Cid
}

// ManifestData is the table of builtin actor code cids.
type ManifestData struct {
	Entries []ManifestEntry
}

// ManifestEntry binds a builtin actor name to its code.
type ManifestEntry struct {
	Name string
	Code cid.Cid
}
