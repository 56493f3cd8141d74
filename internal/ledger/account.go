package ledger

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeInvestor AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Investor sub-types
	SubTypeShares AccountSubType = iota
	SubTypeResidue
	SubTypePayout

	// System sub-types
	SubTypeSystemPortfolio
	SubTypeSystemShareFloat
	SubTypeSystemManagerFees

	// External sub-types
	SubTypeExternalSubscriptions
	SubTypeExternalRedemptions
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	// AssetQuote is the fund's cash/quote currency.
	AssetQuote AssetID = 1
	// AssetShares denominates fund share units.
	AssetShares AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"USD":    AssetQuote,
		"SHARES": AssetShares,
		"ETH":    3,
		"BTC":    4,
		"LTC":    5,
	}
	idToAsset = map[AssetID]string{
		AssetQuote:  "USD",
		AssetShares: "SHARES",
		3:           "ETH",
		4:           "BTC",
		5:           "LTC",
	}
	nextAssetID AssetID = 6
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// RegisterAsset assigns an ID to a configured tracked asset.
// Called once at startup, before any ledger activity.
func RegisterAsset(asset string) AssetID {
	if id, ok := assetToID[asset]; ok {
		return id
	}
	id := nextAssetID
	nextAssetID++
	assetToID[asset] = id
	idToAsset[id] = asset
	return id
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for investors, hash for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewInvestorAccountKey creates a key for investor accounts
func NewInvestorAccountKey(investorID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeInvestor,
		EntityID: investorID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts.
// The fund name is hashed into the fixed-width entity field so names
// longer than 16 bytes cannot collide on a shared prefix.
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	sum := sha256.Sum256([]byte(name))
	var entityID [16]byte
	copy(entityID[:], sum[:16])
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// Well-known system accounts. The fund name scopes the entity field so
// journals from different funds could share one log.
func PortfolioAccount(fund string) AccountKey {
	return NewSystemAccountKey(fund, SubTypeSystemPortfolio, AssetQuote)
}

func ShareFloatAccount(fund string) AccountKey {
	return NewSystemAccountKey(fund, SubTypeSystemShareFloat, AssetShares)
}

func ManagerFeesAccount(fund string) AccountKey {
	return NewSystemAccountKey(fund, SubTypeSystemManagerFees, AssetQuote)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeInvestor:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("investor:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeShares:
		return "shares"
	case SubTypeResidue:
		return "residue"
	case SubTypePayout:
		return "payout"
	case SubTypeSystemPortfolio:
		return "portfolio"
	case SubTypeSystemShareFloat:
		return "share_float"
	case SubTypeSystemManagerFees:
		return "manager_fees"
	case SubTypeExternalSubscriptions:
		return "subscriptions"
	case SubTypeExternalRedemptions:
		return "redemptions"
	default:
		return "unknown"
	}
}
