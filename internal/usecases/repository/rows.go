package repository

import (
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
	"github.com/zapp/backend/internal/entities"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var orderColumns = []string{
	"order_id", "batch_id", "user_wallet_address", "merchant_code",
	"fiat_amount", "fiat_currency", "payment_rail",
	"base_exchange_rate", "user_display_rate", "merchant_display_rate",
	"zec_amount", "merchant_zec_amount", "platform_zec_amount", "platform_zec_address",
	"merchant_id", "merchant_zec_address",
	"fiat_payment_reference", "zec_tx_hash", "scanned_qr_code_data",
	"group_id", "group_expires_at", "target_merchant_id",
	"status", "status_history", "version", "created_at", "updated_at",
}

// orderRow is the flat table shape of an order. The optional parts are nullable columns.
type orderRow struct {
	OrderID           string          `db:"order_id"`
	BatchID           *string         `db:"batch_id"`
	UserWalletAddress string          `db:"user_wallet_address"`
	MerchantCode      string          `db:"merchant_code"`
	FiatAmount        decimal.Decimal `db:"fiat_amount"`
	FiatCurrency      string          `db:"fiat_currency"`
	PaymentRail       string          `db:"payment_rail"`

	BaseExchangeRate    decimal.NullDecimal `db:"base_exchange_rate"`
	UserDisplayRate     decimal.NullDecimal `db:"user_display_rate"`
	MerchantDisplayRate decimal.NullDecimal `db:"merchant_display_rate"`
	ZecAmount           decimal.NullDecimal `db:"zec_amount"`
	MerchantZecAmount   decimal.NullDecimal `db:"merchant_zec_amount"`
	PlatformZecAmount   decimal.NullDecimal `db:"platform_zec_amount"`
	PlatformZecAddress  *string             `db:"platform_zec_address"`

	MerchantID         *string `db:"merchant_id"`
	MerchantZecAddress *string `db:"merchant_zec_address"`

	FiatPaymentReference string `db:"fiat_payment_reference"`
	ZecTxHash            string `db:"zec_tx_hash"`
	ScannedQRCodeData    string `db:"scanned_qr_code_data"`

	GroupID          *string    `db:"group_id"`
	GroupExpiresAt   *time.Time `db:"group_expires_at"`
	TargetMerchantID *string    `db:"target_merchant_id"`

	Status        string                 `db:"status"`
	StatusHistory []entities.StatusEntry `db:"status_history"`
	Version       int64                  `db:"version"`
	CreatedAt     time.Time              `db:"created_at"`
	UpdatedAt     time.Time              `db:"updated_at"`
}

func (r orderRow) toEntity() entities.Order {
	o := entities.Order{
		ID:                   r.OrderID,
		BatchID:              deref(r.BatchID),
		UserWalletAddress:    r.UserWalletAddress,
		MerchantCode:         r.MerchantCode,
		FiatAmount:           r.FiatAmount,
		FiatCurrency:         r.FiatCurrency,
		PaymentRail:          entities.PaymentRail(r.PaymentRail),
		FiatPaymentReference: r.FiatPaymentReference,
		ZecTxHash:            r.ZecTxHash,
		ScannedQRCodeData:    r.ScannedQRCodeData,
		Status:               entities.OrderStatus(r.Status),
		StatusHistory:        r.StatusHistory,
		Version:              r.Version,
		CreatedAt:            r.CreatedAt.UTC(),
		UpdatedAt:            r.UpdatedAt.UTC(),
	}
	if r.ZecAmount.Valid {
		o.Quote = &entities.Quote{
			BaseExchangeRate:    r.BaseExchangeRate.Decimal,
			UserDisplayRate:     r.UserDisplayRate.Decimal,
			MerchantDisplayRate: r.MerchantDisplayRate.Decimal,
			ZecAmount:           r.ZecAmount.Decimal,
			MerchantZecAmount:   r.MerchantZecAmount.Decimal,
			PlatformZecAmount:   r.PlatformZecAmount.Decimal,
			PlatformZecAddress:  deref(r.PlatformZecAddress),
		}
	}
	if r.MerchantID != nil {
		o.Assignment = &entities.Assignment{MerchantID: *r.MerchantID, MerchantZecAddress: deref(r.MerchantZecAddress)}
	}
	if r.GroupID != nil && r.GroupExpiresAt != nil {
		o.Grouping = &entities.Grouping{
			GroupID:          *r.GroupID,
			ExpiresAt:        r.GroupExpiresAt.UTC(),
			TargetMerchantID: deref(r.TargetMerchantID),
		}
	}
	return o
}

// orderValues maps every mutable column; order_id and created_at are written on insert only.
func orderValues(o *entities.Order) map[string]any {
	v := map[string]any{
		"batch_id":               nullable(o.BatchID),
		"user_wallet_address":    o.UserWalletAddress,
		"merchant_code":          o.MerchantCode,
		"fiat_amount":            o.FiatAmount,
		"fiat_currency":          o.FiatCurrency,
		"payment_rail":           string(o.PaymentRail),
		"base_exchange_rate":     decimal.NullDecimal{},
		"user_display_rate":      decimal.NullDecimal{},
		"merchant_display_rate":  decimal.NullDecimal{},
		"zec_amount":             decimal.NullDecimal{},
		"merchant_zec_amount":    decimal.NullDecimal{},
		"platform_zec_amount":    decimal.NullDecimal{},
		"platform_zec_address":   nil,
		"merchant_id":            nil,
		"merchant_zec_address":   nil,
		"fiat_payment_reference": o.FiatPaymentReference,
		"zec_tx_hash":            o.ZecTxHash,
		"scanned_qr_code_data":   o.ScannedQRCodeData,
		"group_id":               nil,
		"group_expires_at":       nil,
		"target_merchant_id":     nil,
		"status":                 string(o.Status),
		"status_history":         o.StatusHistory,
		"updated_at":             o.UpdatedAt,
	}
	if q := o.Quote; q != nil {
		v["base_exchange_rate"] = decimal.NewNullDecimal(q.BaseExchangeRate)
		v["user_display_rate"] = decimal.NewNullDecimal(q.UserDisplayRate)
		v["merchant_display_rate"] = decimal.NewNullDecimal(q.MerchantDisplayRate)
		v["zec_amount"] = decimal.NewNullDecimal(q.ZecAmount)
		v["merchant_zec_amount"] = decimal.NewNullDecimal(q.MerchantZecAmount)
		v["platform_zec_amount"] = decimal.NewNullDecimal(q.PlatformZecAmount)
		v["platform_zec_address"] = nullable(q.PlatformZecAddress)
	}
	if a := o.Assignment; a != nil {
		v["merchant_id"] = a.MerchantID
		v["merchant_zec_address"] = a.MerchantZecAddress
	}
	if g := o.Grouping; g != nil {
		v["group_id"] = g.GroupID
		v["group_expires_at"] = g.ExpiresAt
		v["target_merchant_id"] = g.TargetMerchantID
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
