package domain

// Credential is opaque per-exchange authentication material. Connectors
// receive it by reference per call and never persist it; storage and
// encryption of credentials belong to the credential store.
type Credential struct {
	APIKey        string
	APISecret     string
	JWT           string // bearer token, used by paradex
	WalletAddress string // account address, used by hyperliquid
}
