package entities

import "time"

// Facilitator is a directory entry: who can pay out on which rails, and where they receive ZEC.
type Facilitator struct {
	MerchantID   string        `json:"merchant_id"`
	ZecAddress   string        `json:"zec_address"`
	EnabledRails []PaymentRail `json:"enabled_rails"`
	Active       bool          `json:"active"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Covers reports whether the facilitator has every rail in rails enabled.
func (f Facilitator) Covers(rails []PaymentRail) bool {
	enabled := make(map[PaymentRail]struct{}, len(f.EnabledRails))
	for _, r := range f.EnabledRails {
		enabled[r] = struct{}{}
	}
	for _, r := range rails {
		if _, ok := enabled[r]; !ok {
			return false
		}
	}
	return true
}
