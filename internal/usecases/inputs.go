package usecases

import (
	"github.com/shopspring/decimal"
	"github.com/zapp/backend/internal/entities"
)

// OrderItem is one requested payout. BaseExchangeRate is optional; the configured rate
// source is asked when it is nil.
type OrderItem struct {
	MerchantCode      string           `json:"merchant_code"`
	FiatAmount        decimal.Decimal  `json:"fiat_amount"`
	FiatCurrency      string           `json:"fiat_currency"`
	PaymentRail       string           `json:"payment_rail"`
	BaseExchangeRate  *decimal.Decimal `json:"base_exchange_rate,omitempty"`
	ScannedQRCodeData string           `json:"scanned_qr_code_data,omitempty"`
}

type CreateOrderInput struct {
	UserWalletAddress string `json:"user_wallet_address"`
	OrderItem
}

type CreateBatchInput struct {
	UserWalletAddress string      `json:"user_wallet_address"`
	Items             []OrderItem `json:"items"`
}

type AcceptInput struct {
	MerchantID         string `json:"merchant_id"`
	MerchantZecAddress string `json:"merchant_zec_address"`
}

type FiatSentInput struct {
	MerchantID           string `json:"merchant_id"`
	FiatPaymentReference string `json:"fiat_payment_reference,omitempty"`
	Notes                string `json:"notes,omitempty"`
}

type ZecReceivedInput struct {
	MerchantID string `json:"merchant_id"`
	ZecTxHash  string `json:"zec_tx_hash,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type CancelInput struct {
	UserWalletAddress string `json:"user_wallet_address"`
	Reason            string `json:"reason,omitempty"`
}

type FailInput struct {
	Reason string `json:"reason,omitempty"`
}

// RegisterFacilitatorInput seeds or updates a directory entry.
type RegisterFacilitatorInput struct {
	MerchantID   string   `json:"merchant_id"`
	ZecAddress   string   `json:"zec_address"`
	EnabledRails []string `json:"enabled_rails"`
	Active       *bool    `json:"active,omitempty"`
}

func (in RegisterFacilitatorInput) toFacilitator() (*entities.Facilitator, error) {
	if err := requireFields(map[string]string{
		"merchant_id": in.MerchantID,
		"zec_address": in.ZecAddress,
	}); err != nil {
		return nil, err
	}
	rails, err := entities.ParsePaymentRails(in.EnabledRails)
	if err != nil {
		return nil, err
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	return &entities.Facilitator{
		MerchantID:   in.MerchantID,
		ZecAddress:   in.ZecAddress,
		EnabledRails: rails,
		Active:       active,
	}, nil
}
