// Package classify turns raw ledger transactions into typed marketplace
// activities. Classification is pure: no I/O, no side effects, and a fixed
// precedence order (burn, then purchase, then mint) so a transaction can
// never be double-classified.
package classify

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/caskwatch/caskwatch/service/ledger"
	solanago "github.com/gagliardetto/solana-go"
)

// Token2022ProgramID is the Token Extensions program. Marketplace mints are
// issued through it, so it anchors the mint-transaction shape check.
var Token2022ProgramID = solanago.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

// stablecoinDivisor scales raw stablecoin deltas to whole units (6 decimals).
const stablecoinDivisor = 1_000_000

// Kind is the activity type resulting from classification.
type Kind int

const (
	KindNoMatch Kind = iota
	KindMint
	KindBurn
	KindPurchase
)

// String returns the activity type code used in persistence and stats.
func (k Kind) String() string {
	switch k {
	case KindMint:
		return "MINT"
	case KindBurn:
		return "BURN"
	case KindPurchase:
		return "PURCHASE"
	default:
		return "NO_MATCH"
	}
}

// Activity is a classified but not yet resolved activity record. The asset
// is identified only by its ledger mint address; resolution to an internal
// asset id happens later in the pipeline.
type Activity struct {
	Kind        Kind
	Mint        string // ledger mint address of the asset
	Price       *int64 // whole stablecoin units, purchases only
	Date        time.Time
	Signature   string
	FromAccount *string
	ToAccount   *string
}

// rule is one classification strategy. match reports whether the
// transaction has the rule's shape; parse extracts the activity and may
// still return nil when a consistency check fails. A matched
// transaction is consumed by its rule either way: it never falls through
// to a lower-precedence rule.
type rule struct {
	name  string
	match func(tx *ledger.RawTransaction) bool
	parse func(tx *ledger.RawTransaction) *Activity
}

// Classifier applies the ordered classification rules to raw transactions.
type Classifier struct {
	stablecoinMint string
	rules          []rule
	logger         *slog.Logger
}

// NewClassifier creates a classifier that recognizes purchases settled in
// the given stablecoin mint.
func NewClassifier(stablecoinMint string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{
		stablecoinMint: stablecoinMint,
		logger:         logger,
	}
	// Precedence is a contract: burn wins over purchase wins over mint.
	c.rules = []rule{
		{name: "burn", match: c.isBurn, parse: c.parseBurn},
		{name: "purchase", match: c.isPurchase, parse: c.parsePurchase},
		{name: "mint", match: c.isMint, parse: c.parseMint},
	}
	return c
}

// Classify maps one raw transaction to at most one activity. A nil result
// means the transaction matched none of the known shapes, which is a
// normal, frequent outcome.
func (c *Classifier) Classify(tx *ledger.RawTransaction) *Activity {
	for _, r := range c.rules {
		if r.match(tx) {
			return r.parse(tx)
		}
	}
	return nil
}

// NetMintChanges accumulates signed raw token deltas per mint across all
// accounts in the transaction. A zero sum means the mint's supply only
// moved between accounts.
func NetMintChanges(tx *ledger.RawTransaction) map[string]int64 {
	net := make(map[string]int64)
	for _, account := range tx.AccountData {
		for _, change := range account.TokenBalanceChanges {
			net[change.Mint] += parseRawAmount(change.RawTokenAmount.TokenAmount)
		}
	}
	return net
}

// NetChangesPerAccount accumulates signed raw token deltas keyed by mint
// and then by owning account.
func NetChangesPerAccount(tx *ledger.RawTransaction) map[string]map[string]int64 {
	net := make(map[string]map[string]int64)
	for _, account := range tx.AccountData {
		for _, change := range account.TokenBalanceChanges {
			perAccount, ok := net[change.Mint]
			if !ok {
				perAccount = make(map[string]int64)
				net[change.Mint] = perAccount
			}
			perAccount[change.UserAccount] += parseRawAmount(change.RawTokenAmount.TokenAmount)
		}
	}
	return net
}

// isBurn reports transactions where exactly one mint appears and its net
// change is -1: a single token destroyed.
func (c *Classifier) isBurn(tx *ledger.RawTransaction) bool {
	net := NetMintChanges(tx)
	if len(net) != 1 {
		return false
	}
	for _, amount := range net {
		if amount != -1 {
			return false
		}
	}
	return true
}

func (c *Classifier) parseBurn(tx *ledger.RawTransaction) *Activity {
	var fromAccount, mint string
	for _, account := range tx.AccountData {
		for _, change := range account.TokenBalanceChanges {
			if change.Mint != "" && change.RawTokenAmount.TokenAmount == "-1" {
				fromAccount = change.UserAccount
				mint = change.Mint
			}
		}
	}
	if fromAccount == "" || mint == "" {
		// Aggregate said burn but no single -1 entry exists. Consistency
		// check failed; skip rather than emit a half-formed record.
		c.logger.Warn("burn-shaped transaction without a -1 balance change, skipping",
			"signature", tx.Signature,
		)
		return nil
	}

	return &Activity{
		Kind:        KindBurn,
		Mint:        mint,
		Date:        tx.Time(),
		Signature:   tx.Signature,
		FromAccount: &fromAccount,
	}
}

// isPurchase reports transactions where the stablecoin moved between
// accounts (net zero), exactly one other mint participates, and exactly one
// account paid.
func (c *Classifier) isPurchase(tx *ledger.RawTransaction) bool {
	net := NetMintChanges(tx)
	stableNet, hasStable := net[c.stablecoinMint]
	if !hasStable || stableNet != 0 {
		return false
	}
	if len(net) != 2 {
		return false
	}

	senders := 0
	for _, amount := range NetChangesPerAccount(tx)[c.stablecoinMint] {
		if amount < 0 {
			senders++
		}
	}
	return senders == 1
}

func (c *Classifier) parsePurchase(tx *ledger.RawTransaction) *Activity {
	perAccount := NetChangesPerAccount(tx)

	var price *int64
	var fromAccount, toAccount, mint string
	for token, accounts := range perAccount {
		for account, amount := range accounts {
			if token == c.stablecoinMint {
				if amount < 0 {
					p := (-amount) / stablecoinDivisor
					price = &p
				}
				continue
			}
			if amount > 0 {
				toAccount = account
			} else if amount < 0 {
				fromAccount = account
			}
			mint = token
		}
	}

	if price == nil || *price == 0 || fromAccount == "" || toAccount == "" || mint == "" {
		return nil
	}

	return &Activity{
		Kind:        KindPurchase,
		Mint:        mint,
		Price:       price,
		Date:        tx.Time(),
		Signature:   tx.Signature,
		FromAccount: &fromAccount,
		ToAccount:   &toAccount,
	}
}

// isMint reports single-instruction Token-2022 transactions that credit
// exactly one account with a token balance change carrying a mint and an
// amount.
func (c *Classifier) isMint(tx *ledger.RawTransaction) bool {
	if len(tx.TokenTransfers) > 1 {
		return false
	}
	if len(tx.Instructions) != 1 {
		return false
	}
	if tx.Instructions[0].ProgramID != Token2022ProgramID.String() {
		return false
	}

	accountsWithChanges := 0
	for _, account := range tx.AccountData {
		if len(account.TokenBalanceChanges) > 0 {
			accountsWithChanges++
		}
	}
	if accountsWithChanges != 1 {
		return false
	}

	for _, account := range tx.AccountData {
		for _, change := range account.TokenBalanceChanges {
			if change.Mint != "" && change.RawTokenAmount.TokenAmount != "" {
				return true
			}
		}
	}
	return false
}

func (c *Classifier) parseMint(tx *ledger.RawTransaction) *Activity {
	for _, account := range tx.AccountData {
		for _, change := range account.TokenBalanceChanges {
			if change.Mint != "" && change.RawTokenAmount.TokenAmount == "1" {
				toAccount := change.UserAccount
				return &Activity{
					Kind:      KindMint,
					Mint:      change.Mint,
					Date:      tx.Time(),
					Signature: tx.Signature,
					ToAccount: &toAccount,
				}
			}
		}
	}
	return nil
}

// parseRawAmount parses a raw token amount string. The feed transmits
// amounts as strings and occasionally malformed; a bad value is treated as
// zero rather than failing the whole transaction.
func parseRawAmount(s string) int64 {
	if s == "" {
		return 0
	}
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return amount
}
