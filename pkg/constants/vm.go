package constants

// Defaults for the machine configuration.
const (
	DefaultMaxCallDepth = 4096
	DefaultInitialPages = 0
	DefaultMaxPages     = 1024
)

// PageSize is the size of one guest memory page.
const PageSize = 64 << 10

// Bytes of signature data a secp256k1 message carries on chain.
const (
	SecpSignatureLength   = 65
	SecpSignatureOverhead = SecpSignatureLength + 4
)

// MaxActorAddressLength bounds the address bytes accepted from guest memory.
const MaxActorAddressLength = 65
