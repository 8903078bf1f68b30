// Package storage provides a durable lendingmarket.Store backed by gorm,
// adapted from the teacher's services/otc-gateway persistence layer
// (gorm.Open + db.Transaction(func(tx *gorm.DB) error {...})). Pool
// vaults and their live collaborators (the oracle feed, the underlying
// ledger) are runtime wiring, not rows — this store persists every CDP
// and the market-wide configuration durably. PutPool also writes a row of
// each pool's scalar state (total loan, loan units, cached price and its
// timestamp); the reserve balance is written as "0", the last-update time
// is not written, and nothing reads pool rows back. Live PoolState objects
// are held in memory only and are not restored from the database.
package storage

import (
	"encoding/json"
	"math/big"

	"gorm.io/gorm"

	"github.com/weftfinance/lending-market/lendingmarket"
)

type marketConfigRow struct {
	ID             uint `gorm:"primaryKey"`
	MaxCDPPosition int
}

type operatingStatusRow struct {
	ID   uint `gorm:"primaryKey"`
	JSON string
}

type poolRow struct {
	Resource             string `gorm:"primaryKey"`
	TotalLoan            string
	TotalLoanUnit        string
	CachedPrice          string
	CachedPriceTimestamp int64
	LastUpdate           int64
	ReserveBalance       string
}

type cdpRow struct {
	ID             uint64 `gorm:"primaryKey"`
	Owner          string
	TypeJSON       string
	CollateralsJSON string
	LoansJSON      string
	DelegateeJSON  string
	DelegateeCount int
	Name           string
	Description    string
	KeyImageURL    string
	MintedAt       int64
	UpdatedAt      int64
}

// GormStore persists CDPs and market configuration via gorm, while
// keeping live PoolState objects (with their Vault/Interest/Ledger/Feed
// wiring) in memory, mirroring lendingmarket.MemStore for the pool half
// of the Store interface.
type GormStore struct {
	db    *gorm.DB
	pools map[string]*lendingmarket.PoolState
}

// NewGormStore auto-migrates the schema and constructs a store. The
// caller is responsible for calling PutPool for every pool it wires up.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&marketConfigRow{}, &operatingStatusRow{}, &poolRow{}, &cdpRow{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, pools: make(map[string]*lendingmarket.PoolState)}, nil
}

func (s *GormStore) GetMarketConfig() (lendingmarket.MarketConfig, error) {
	var row marketConfigRow
	if err := s.db.First(&row, 1).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			cfg := lendingmarket.DefaultMarketConfig()
			return cfg, s.PutMarketConfig(cfg)
		}
		return lendingmarket.MarketConfig{}, err
	}
	return lendingmarket.MarketConfig{MaxCDPPosition: row.MaxCDPPosition}, nil
}

func (s *GormStore) PutMarketConfig(cfg lendingmarket.MarketConfig) error {
	row := marketConfigRow{ID: 1, MaxCDPPosition: cfg.MaxCDPPosition}
	return s.db.Save(&row).Error
}

// marketStatus is the process-wide operating status GetMarketStatus hands
// out.
var marketStatus = lendingmarket.NewOperatingStatus()

func (s *GormStore) GetMarketStatus() (*lendingmarket.OperatingStatus, error) {
	// The operating status holds unexported flag state, so this store
	// keeps a single process-wide instance in memory; the coordinator's
	// Update calls mutate it directly, matching how PoolState's own Status
	// works today. The status row table is migrated but never read or
	// written, so the status does not survive a restart.
	return marketStatus, nil
}

func (s *GormStore) GetPool(resource string) (*lendingmarket.PoolState, error) {
	p, ok := s.pools[resource]
	if !ok {
		return nil, lendingmarket.ErrPoolNotFound
	}
	return p, nil
}

func (s *GormStore) PutPool(resource string, p *lendingmarket.PoolState) error {
	s.pools[resource] = p
	return s.savePoolScalars(resource, p)
}

func (s *GormStore) savePoolScalars(resource string, p *lendingmarket.PoolState) error {
	price, timestamp := p.CachedPrice()
	row := poolRow{
		Resource:             resource,
		TotalLoan:            p.TotalLoan().String(),
		TotalLoanUnit:        p.TotalLoanUnit().String(),
		CachedPrice:          price.RatString(),
		CachedPriceTimestamp: timestamp,
		ReserveBalance:       "0",
	}
	return s.db.Save(&row).Error
}

func (s *GormStore) ListPools() ([]*lendingmarket.PoolState, error) {
	out := make([]*lendingmarket.PoolState, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	return out, nil
}

func (s *GormStore) GetCDP(id uint64) (*lendingmarket.CDP, error) {
	var row cdpRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, lendingmarket.ErrCDPNotFound
		}
		return nil, err
	}
	return rowToCDP(row)
}

func (s *GormStore) PutCDP(cdp *lendingmarket.CDP) error {
	row, err := cdpToRow(cdp)
	if err != nil {
		return err
	}
	return s.db.Save(&row).Error
}

func (s *GormStore) NextCDPID() (uint64, error) {
	var maxID uint64
	if err := s.db.Model(&cdpRow{}).Select("COALESCE(MAX(id), 0)").Scan(&maxID).Error; err != nil {
		return 0, err
	}
	return maxID + 1, nil
}

// Transaction runs fn inside a gorm transaction for the CDP/config half of
// the store; pool vaults snapshot/restore themselves the same way
// lendingmarket.MemStore does, since they are in-memory regardless of
// which Store backs the coordinator.
func (s *GormStore) Transaction(fn func(lendingmarket.Store) error) error {
	poolSnapshots := make(map[string]any, len(s.pools))
	for resource, p := range s.pools {
		poolSnapshots[resource] = p.Snapshot()
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		scoped := &GormStore{db: tx, pools: s.pools}
		return fn(scoped)
	})
	if err != nil {
		for resource, snap := range poolSnapshots {
			if p, ok := s.pools[resource]; ok {
				p.Restore(snap)
			}
		}
	}
	return err
}

func cdpToRow(cdp *lendingmarket.CDP) (cdpRow, error) {
	typeJSON, err := json.Marshal(cdp.Type)
	if err != nil {
		return cdpRow{}, err
	}
	collaterals, err := marshalBigIntMap(cdp.Collaterals)
	if err != nil {
		return cdpRow{}, err
	}
	loans, err := marshalBigIntMap(cdp.Loans)
	if err != nil {
		return cdpRow{}, err
	}
	delegatee, err := json.Marshal(serializeDelegateeLoans(cdp.DelegateeLoans))
	if err != nil {
		return cdpRow{}, err
	}
	return cdpRow{
		ID:              cdp.ID,
		Owner:           cdp.Owner,
		TypeJSON:        string(typeJSON),
		CollateralsJSON: string(collaterals),
		LoansJSON:       string(loans),
		DelegateeJSON:   string(delegatee),
		DelegateeCount:  cdp.DelegateeCount,
		Name:            cdp.Name,
		Description:     cdp.Description,
		KeyImageURL:     cdp.KeyImageURL,
		MintedAt:        cdp.MintedAt,
		UpdatedAt:       cdp.UpdatedAt,
	}, nil
}

func rowToCDP(row cdpRow) (*lendingmarket.CDP, error) {
	var cdpType lendingmarket.CDPType
	if err := json.Unmarshal([]byte(row.TypeJSON), &cdpType); err != nil {
		return nil, err
	}
	collaterals, err := unmarshalBigIntMap(row.CollateralsJSON)
	if err != nil {
		return nil, err
	}
	loans, err := unmarshalBigIntMap(row.LoansJSON)
	if err != nil {
		return nil, err
	}
	var delegateeRaw map[uint64]map[string]string
	if err := json.Unmarshal([]byte(row.DelegateeJSON), &delegateeRaw); err != nil {
		return nil, err
	}
	delegatee := make(map[uint64]map[string]*big.Int, len(delegateeRaw))
	for id, m := range delegateeRaw {
		inner := make(map[string]*big.Int, len(m))
		for resource, amount := range m {
			v, ok := new(big.Int).SetString(amount, 10)
			if !ok {
				return nil, errInvalidBigInt(amount)
			}
			inner[resource] = v
		}
		delegatee[id] = inner
	}

	return &lendingmarket.CDP{
		ID:             row.ID,
		Owner:          row.Owner,
		Type:           cdpType,
		Collaterals:    collaterals,
		Loans:          loans,
		DelegateeLoans: delegatee,
		DelegateeCount: row.DelegateeCount,
		Name:           row.Name,
		Description:    row.Description,
		KeyImageURL:    row.KeyImageURL,
		MintedAt:       row.MintedAt,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

func serializeDelegateeLoans(m map[uint64]map[string]*big.Int) map[uint64]map[string]string {
	out := make(map[uint64]map[string]string, len(m))
	for id, inner := range m {
		out[id] = make(map[string]string, len(inner))
		for resource, amount := range inner {
			out[id][resource] = amount.String()
		}
	}
	return out
}

func marshalBigIntMap(m map[string]*big.Int) ([]byte, error) {
	asStrings := make(map[string]string, len(m))
	for k, v := range m {
		asStrings[k] = v.String()
	}
	return json.Marshal(asStrings)
}

func unmarshalBigIntMap(raw string) (map[string]*big.Int, error) {
	var asStrings map[string]string
	if err := json.Unmarshal([]byte(raw), &asStrings); err != nil {
		return nil, err
	}
	out := make(map[string]*big.Int, len(asStrings))
	for k, v := range asStrings {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, errInvalidBigInt(v)
		}
		out[k] = n
	}
	return out, nil
}

type errInvalidBigInt string

func (e errInvalidBigInt) Error() string { return "storage: invalid big.Int literal " + string(e) }
