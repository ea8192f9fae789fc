package ledger

import (
	"time"
)

// RawTransaction is one enriched transaction record from the ledger feed.
// The feed is loosely typed JSON; every field the classifier touches is
// modeled explicitly so classification rules stay unit-testable.
type RawTransaction struct {
	Signature      string          `json:"signature"`
	Timestamp      int64           `json:"timestamp"`
	Type           string          `json:"type,omitempty"`
	Instructions   []Instruction   `json:"instructions"`
	TokenTransfers []TokenTransfer `json:"tokenTransfers"`
	AccountData    []AccountData   `json:"accountData"`
}

// Time returns the transaction timestamp as a UTC time.
func (t *RawTransaction) Time() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}

// Instruction is a single instruction descriptor within a transaction.
type Instruction struct {
	ProgramID string `json:"programId"`
	Data      string `json:"data,omitempty"`
}

// TokenTransfer is a decoded token transfer within a transaction.
type TokenTransfer struct {
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	Mint            string  `json:"mint"`
	TokenAmount     float64 `json:"tokenAmount"`
}

// AccountData carries the per-account balance changes of a transaction.
type AccountData struct {
	Account             string               `json:"account"`
	NativeBalanceChange int64                `json:"nativeBalanceChange"`
	TokenBalanceChanges []TokenBalanceChange `json:"tokenBalanceChanges"`
}

// TokenBalanceChange is a signed token balance delta for one account.
type TokenBalanceChange struct {
	Mint           string         `json:"mint"`
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

// RawTokenAmount is the raw (undivided) token amount as transmitted by the
// feed. TokenAmount is a decimal string and may be malformed; callers must
// tolerate bad values.
type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int    `json:"decimals"`
}

// AssetInfo is the subset of the on-chain asset metadata lookup we consume.
type AssetInfo struct {
	ID   string
	Name string
}

// getAssetResponse mirrors the JSON-RPC getAsset response envelope.
type getAssetResponse struct {
	Result *getAssetResult `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type getAssetResult struct {
	ID             string              `json:"id"`
	Content        *assetContent       `json:"content"`
	MintExtensions *assetMintExtension `json:"mint_extensions"`
}

type assetContent struct {
	Metadata assetMetadata `json:"metadata"`
}

type assetMintExtension struct {
	Metadata assetMetadata `json:"metadata"`
}

type assetMetadata struct {
	Name string `json:"name"`
}
