package billing

import "sort"

// CreditPack is a purchasable bundle of credits.
type CreditPack struct {
	ID         string `json:"id"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
}

var packs = map[string]CreditPack{
	"pack_1000":  {ID: "pack_1000", Credits: 1000, PriceCents: 1250, Currency: "eur"},
	"pack_5000":  {ID: "pack_5000", Credits: 5500, PriceCents: 6250, Currency: "eur"},    // +10% bonus
	"pack_10000": {ID: "pack_10000", Credits: 12000, PriceCents: 12500, Currency: "eur"}, // +20% bonus
}

func LookupPack(id string) (CreditPack, bool) {
	p, ok := packs[id]
	return p, ok
}

func Packs() []CreditPack {
	out := make([]CreditPack, 0, len(packs))
	for _, p := range packs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits < out[j].Credits })
	return out
}
