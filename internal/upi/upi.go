// Package upi builds UPI collect QR codes for pending payments.
package upi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

type Request struct {
	Reference string
	SaleID    uint
	Amount    decimal.Decimal
}

// QRPayload is handed to the POS screen. Link is the raw deep link for
// devices that can open it directly.
type QRPayload struct {
	PaymentID uint            `json:"payment_id"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Link      string          `json:"upi_link"`
	Image     string          `json:"qr_image"`
}

type Generator interface {
	Generate(ctx context.Context, req Request) (*QRPayload, error)
}

type Config struct {
	VPA       string
	PayeeName string
	Currency  string
	Size      int
}

// QRGenerator encodes the NPCI upi://pay link as a PNG.
type QRGenerator struct {
	cfg Config
}

func NewQRGenerator(cfg Config) (*QRGenerator, error) {
	if cfg.VPA == "" {
		return nil, fmt.Errorf("upi: payee VPA is required")
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.Size == 0 {
		cfg.Size = 256
	}
	return &QRGenerator{cfg: cfg}, nil
}

// Link builds the deep link for a payment request.
func (g *QRGenerator) Link(req Request) string {
	q := url.Values{}
	q.Set("pa", g.cfg.VPA)
	if g.cfg.PayeeName != "" {
		q.Set("pn", g.cfg.PayeeName)
	}
	q.Set("am", req.Amount.StringFixed(2))
	q.Set("cu", g.cfg.Currency)
	q.Set("tr", req.Reference)
	q.Set("tn", fmt.Sprintf("Sale %d", req.SaleID))
	return "upi://pay?" + q.Encode()
}

func (g *QRGenerator) Generate(ctx context.Context, req Request) (*QRPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("upi: amount must be positive, got %s", req.Amount)
	}
	if req.Reference == "" {
		return nil, fmt.Errorf("upi: transaction reference is required")
	}

	link := g.Link(req)
	png, err := qrcode.Encode(link, qrcode.Medium, g.cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("upi: encode qr: %w", err)
	}

	return &QRPayload{
		Reference: req.Reference,
		Amount:    req.Amount,
		Link:      link,
		Image:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}
