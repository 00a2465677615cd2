package entities

import (
	"fmt"
	"sort"
	"strings"
)

// PaymentRail is a local fiat payment channel a facilitator pays out on.
type PaymentRail string

const (
	RailUPI       PaymentRail = "upi"
	RailAlipay    PaymentRail = "alipay"
	RailWeChatPay PaymentRail = "wechat_pay"
	RailPIX       PaymentRail = "pix"
	RailPromptPay PaymentRail = "promptpay"
)

var knownRails = map[PaymentRail]struct{}{
	RailUPI:       {},
	RailAlipay:    {},
	RailWeChatPay: {},
	RailPIX:       {},
	RailPromptPay: {},
}

// ParsePaymentRail validates a wire value. Matching is exact; the wire enum is lower case.
func ParsePaymentRail(s string) (PaymentRail, error) {
	rail := PaymentRail(strings.TrimSpace(s))
	if _, ok := knownRails[rail]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPaymentRail, s)
	}
	return rail, nil
}

// ParsePaymentRails parses a list and drops duplicates.
func ParsePaymentRails(values []string) ([]PaymentRail, error) {
	seen := make(map[PaymentRail]struct{}, len(values))
	rails := make([]PaymentRail, 0, len(values))
	for _, v := range values {
		rail, err := ParsePaymentRail(v)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[rail]; dup {
			continue
		}
		seen[rail] = struct{}{}
		rails = append(rails, rail)
	}
	return SortRails(rails), nil
}

// SortRails sorts rails in place and returns them.
func SortRails(rails []PaymentRail) []PaymentRail {
	sort.Slice(rails, func(i, j int) bool { return rails[i] < rails[j] })
	return rails
}

// RailStrings converts rails to plain strings for storage.
func RailStrings(rails []PaymentRail) []string {
	out := make([]string, len(rails))
	for i, r := range rails {
		out[i] = string(r)
	}
	return out
}
