package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Receipt describes a completed payment for rendering.
type Receipt struct {
	Number        string
	IssuedAt      time.Time
	CustomerName  string
	CustomerEmail string
	SchoolName    string
	Description   string
	Amount        float64
	Currency      string
	ReceiptURL    string
}

// ReceiptRenderer produces printable PDF receipts for completed payments.
type ReceiptRenderer struct{}

// NewReceiptRenderer constructs a receipt renderer.
func NewReceiptRenderer() *ReceiptRenderer {
	return &ReceiptRenderer{}
}

// Render creates a single-page PDF receipt.
func (r *ReceiptRenderer) Render(receipt Receipt) ([]byte, error) {
	if receipt.Number == "" {
		return nil, fmt.Errorf("receipt number required")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "PAYMENT RECEIPT", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Receipt #%s", receipt.Number), "", 1, "", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Issued %s", receipt.IssuedAt.Format("2 Jan 2006 15:04 MST")), "", 1, "", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Billed to", fmt.Sprintf("%s <%s>", receipt.CustomerName, receipt.CustomerEmail)},
		{"School", receipt.SchoolName},
		{"Description", receipt.Description},
		{"Amount", fmt.Sprintf("%.2f %s", receipt.Amount, strings.ToUpper(receipt.Currency))},
	}

	pdf.SetFont("Arial", "", 10)
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 8, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(140, 8, row[1], "1", 1, "", false, 0, "")
	}

	if receipt.ReceiptURL != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "I", 9)
		pdf.CellFormat(0, 6, fmt.Sprintf("Provider receipt: %s", receipt.ReceiptURL), "", 1, "", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}
