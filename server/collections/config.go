// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package collections

import (
	"encoding/json"
	"fmt"
	"os"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/calc"
	"decred.org/nftdex/server/fees"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PercentToBp converts a decimal percent string, e.g. "2.5", to basis points.
// Precision finer than one basis point is an error.
func PercentToBp(pct string) (uint16, error) {
	d, err := decimal.NewFromString(pct)
	if err != nil {
		return 0, fmt.Errorf("invalid percent %q: %w", pct, err)
	}
	bp := d.Mul(hundred)
	if !bp.IsInteger() {
		return 0, fmt.Errorf("percent %q is finer than one basis point", pct)
	}
	if bp.IsNegative() || bp.GreaterThan(decimal.NewFromInt(calc.BpDenominator)) {
		return 0, fmt.Errorf("percent %q out of range", pct)
	}
	return uint16(bp.IntPart()), nil
}

// BpToPercent formats basis points as a percent string.
func BpToPercent(bp uint16) string {
	return decimal.New(int64(bp), -2).String()
}

// CollectionConfig is the file representation of a Collection.
type CollectionConfig struct {
	Address  string `json:"address"`
	Enabled  bool   `json:"enabled"`
	Owner    string `json:"owner"`
	OwnerFee string `json:"ownerFee"`
}

// Config is the file representation of a Registry. Fees are percent strings.
type Config struct {
	FeesEnabled    bool                `json:"feesEnabled"`
	AutoForward    bool                `json:"autoForward"`
	DevFee         string              `json:"devFee"`
	HolderFee      string              `json:"holderFee"`
	BuybackFee     string              `json:"buybackFee"`
	DevAddress     string              `json:"devAddress"`
	HolderAddress  string              `json:"holderAddress"`
	BuybackAddress string              `json:"buybackAddress"`
	Collections    []*CollectionConfig `json:"collections"`
}

// LoadFile parses the JSON config file at path.
func LoadFile(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := new(Config)
	if err = json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("error parsing collections config %s: %w", path, err)
	}
	return New(cfg)
}

// New creates a Registry from a Config.
func New(cfg *Config) (*Registry, error) {
	var admin fees.AdminFees
	var err error
	pcts := []struct {
		pct  string
		bp   *uint16
		addr string
		dst  *dex.Address
	}{
		{cfg.DevFee, &admin.DevBp, cfg.DevAddress, &admin.DevAddr},
		{cfg.HolderFee, &admin.HolderBp, cfg.HolderAddress, &admin.HolderAddr},
		{cfg.BuybackFee, &admin.BuybackBp, cfg.BuybackAddress, &admin.BuybackAddr},
	}
	for _, p := range pcts {
		if p.pct != "" {
			if *p.bp, err = PercentToBp(p.pct); err != nil {
				return nil, err
			}
		}
		if p.addr != "" {
			if *p.dst, err = dex.ParseAddress(p.addr); err != nil {
				return nil, err
			}
		} else if *p.bp > 0 {
			return nil, fmt.Errorf("admin fee %s%% has no recipient address", p.pct)
		}
	}
	r, err := NewRegistry(admin)
	if err != nil {
		return nil, err
	}
	r.feesEnabled = cfg.FeesEnabled
	r.autoForward = cfg.AutoForward
	for _, cc := range cfg.Collections {
		coll, err := dex.ParseAddress(cc.Address)
		if err != nil {
			return nil, err
		}
		var owner dex.Address
		if cc.Owner != "" {
			if owner, err = dex.ParseAddress(cc.Owner); err != nil {
				return nil, err
			}
		}
		var feeBp uint16
		if cc.OwnerFee != "" {
			if feeBp, err = PercentToBp(cc.OwnerFee); err != nil {
				return nil, fmt.Errorf("collection %s: %w", cc.Address, err)
			}
		}
		if err = r.SetCollectionOwner(coll, owner, feeBp); err != nil {
			return nil, fmt.Errorf("collection %s: %w", cc.Address, err)
		}
		r.SetCollectionTrading(coll, cc.Enabled)
	}
	return r, nil
}

// Config exports the Registry in its file representation.
func (r *Registry) Config() *Config {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	cfg := &Config{
		FeesEnabled:    r.feesEnabled,
		AutoForward:    r.autoForward,
		DevFee:         BpToPercent(r.admin.DevBp),
		HolderFee:      BpToPercent(r.admin.HolderBp),
		BuybackFee:     BpToPercent(r.admin.BuybackBp),
		DevAddress:     r.admin.DevAddr.Hex(),
		HolderAddress:  r.admin.HolderAddr.Hex(),
		BuybackAddress: r.admin.BuybackAddr.Hex(),
	}
	for _, c := range r.collections {
		cfg.Collections = append(cfg.Collections, &CollectionConfig{
			Address:  c.Address.Hex(),
			Enabled:  c.Enabled,
			Owner:    c.Owner.Hex(),
			OwnerFee: BpToPercent(c.OwnerFeeBp),
		})
	}
	return cfg
}
