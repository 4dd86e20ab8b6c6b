// Package market defines the tradable poll markets and their grouping into
// ranking buckets. A Market is an asset plus a window granularity
// ("btc_4h"); a Group is the coarser bucket season rankings are scoped to.
package market

import "fmt"

type Market string

const (
	Btc15m Market = "btc_15m"
	Btc1h  Market = "btc_1h"
	Btc4h  Market = "btc_4h"
	Btc1d  Market = "btc_1d"
	Btc1w  Market = "btc_1w"
	Btc1mo Market = "btc_1mo"
	Btc1y  Market = "btc_1y"
	Ndq    Market = "ndq"
	Sp500  Market = "sp500"
	Kospi  Market = "kospi"
	Kosdaq Market = "kosdaq"
)

var all = []Market{
	Btc15m, Btc1h, Btc4h, Btc1d, Btc1w, Btc1mo, Btc1y,
	Ndq, Sp500, Kospi, Kosdaq,
}

func All() []Market {
	out := make([]Market, len(all))
	copy(out, all)
	return out
}

// Parse normalizes an API market string. The bare "btc" alias maps to the
// daily market.
func Parse(s string) (Market, error) {
	if s == "btc" {
		return Btc1d, nil
	}
	for _, m := range all {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown market %q", s)
}

type Granularity string

const (
	Gran15m Granularity = "15m"
	Gran1h  Granularity = "1h"
	Gran4h  Granularity = "4h"
	Gran1d  Granularity = "1d"
	Gran1w  Granularity = "1w"
	Gran1mo Granularity = "1mo"
	Gran1y  Granularity = "1y"
)

func (m Market) Granularity() Granularity {
	switch m {
	case Btc15m:
		return Gran15m
	case Btc1h:
		return Gran1h
	case Btc4h:
		return Gran4h
	case Btc1w:
		return Gran1w
	case Btc1mo:
		return Gran1mo
	case Btc1y:
		return Gran1y
	default:
		return Gran1d
	}
}

// UTCAligned reports whether the market's daily window opens at UTC midnight
// instead of +09:00 midnight. Only the primary BTC daily market does: its
// reference candles come from the upstream provider's native daily bars,
// which open at 00:00 UTC. Every other market keeps the civil +09:00
// calendar. Do not unify this.
func (m Market) UTCAligned() bool {
	return m == Btc1d
}

// Symbol is the upstream market-data symbol, empty when the market has no
// automatic price source.
func (m Market) Symbol() string {
	switch m {
	case Btc15m, Btc1h, Btc4h, Btc1d, Btc1w, Btc1mo, Btc1y:
		return "BTCUSDT"
	default:
		return ""
	}
}

// HasPriceSource reports whether settlement can fetch reference prices for
// this market on its own. Index markets rely on externally ingested candles.
func (m Market) HasPriceSource() bool {
	return m.Symbol() != ""
}

// Group is the ranking bucket a market folds into.
type Group string

const (
	GroupBtc Group = "btc"
	GroupUS  Group = "us"
	GroupKR  Group = "kr"

	// GroupAll aggregates every market for the cross-market leaderboard.
	GroupAll Group = "all"
)

func Groups() []Group {
	return []Group{GroupBtc, GroupUS, GroupKR, GroupAll}
}

func ParseGroup(s string) (Group, error) {
	switch Group(s) {
	case GroupBtc, GroupUS, GroupKR, GroupAll:
		return Group(s), nil
	}
	return "", fmt.Errorf("unknown market group %q", s)
}

var groupOf = map[Market]Group{
	Btc15m: GroupBtc,
	Btc1h:  GroupBtc,
	Btc4h:  GroupBtc,
	Btc1d:  GroupBtc,
	Btc1w:  GroupBtc,
	Btc1mo: GroupBtc,
	Btc1y:  GroupBtc,
	Ndq:    GroupUS,
	Sp500:  GroupUS,
	Kospi:  GroupKR,
	Kosdaq: GroupKR,
}

func (m Market) Group() Group {
	return groupOf[m]
}

// InGroup reports membership, with the sentinel GroupAll matching everything.
func (m Market) InGroup(g Group) bool {
	if g == GroupAll {
		return true
	}
	return groupOf[m] == g
}

// Side is the direction of a bet.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}
