package intake

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestNumberUnmarshal(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      string
		malformed bool
	}{
		{"number", `1200.5`, "1200.5", false},
		{"string", `"450"`, "450", false},
		{"currency string", `"$1,200.50"`, "1200.5", false},
		{"empty string", `""`, "0", false},
		{"null", `null`, "0", false},
		{"garbage", `"abc"`, "0", true},
		{"negative", `-5`, "0", true},
		{"bool", `true`, "0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n Number
			require.NoError(t, json.Unmarshal([]byte(tt.input), &n))
			assert.Equal(t, tt.want, n.String())
			assert.Equal(t, tt.malformed, n.Malformed)
		})
	}
}

func TestNumberMarshal(t *testing.T) {
	data, err := json.Marshal(NewNumber(12.25))
	require.NoError(t, err)
	assert.Equal(t, "12.25", string(data))
}

func TestDateUnmarshal(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      time.Time
		malformed bool
	}{
		{"rfc3339", `"2024-03-01T10:30:00Z"`, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), false},
		{"date only", `"2024-03-01"`, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"us date", `"03/01/2024"`, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"unix millis", `1709251200000`, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"empty", `""`, time.Time{}, false},
		{"null", `null`, time.Time{}, false},
		{"garbage", `"last tuesday"`, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Date
			require.NoError(t, json.Unmarshal([]byte(tt.input), &d))
			assert.True(t, tt.want.Equal(d.Time), "got %v", d.Time)
			assert.Equal(t, tt.malformed, d.Malformed)
		})
	}
}

const samplePayload = `{
	"id": "inv-100",
	"vendorId": " vendor-1 ",
	"matterId": "matter-9",
	"practiceArea": "Litigation",
	"currency": "usd",
	"submittedAt": "2024-04-15",
	"periodEnd": "2024-03-31",
	"lineItems": [
		{"description": "Draft motion", "hours": "4.5", "rate": "$450", "timekeeperName": "J. Smith", "entryDate": "2024-03-20", "type": "fee"},
		{"description": "Court reporter", "amount": "1,250.00", "entryDate": "2024-03-21", "type": "disbursement"},
		{"description": "Research", "hours": "n/a", "rate": 300}
	]
}`

func TestNormalize(t *testing.T) {
	var req InvoiceRequest
	require.NoError(t, json.Unmarshal([]byte(samplePayload), &req))

	now := time.Date(2024, 4, 16, 8, 0, 0, 0, time.UTC)
	out, err := req.Normalize("tenant-001", now)
	require.NoError(t, err)

	inv := out.Invoice
	assert.Equal(t, "inv-100", inv.ID)
	assert.Equal(t, "tenant-001", inv.TenantID)
	assert.Equal(t, "vendor-1", inv.VendorID)
	assert.Equal(t, "litigation", inv.PracticeArea)
	assert.Equal(t, "USD", inv.Currency)
	assert.True(t, inv.SubmittedAt.Equal(time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, now, inv.CreatedAt)

	require.Len(t, out.LineItems, 3)
	assert.Equal(t, 2025.0, out.LineItems[0].Amount, "hours x rate")
	assert.Equal(t, domain.ItemTypeFee, out.LineItems[0].Type)
	assert.Equal(t, domain.ItemTypeExpense, out.LineItems[1].Type)
	assert.Equal(t, 1250.0, out.LineItems[1].Amount)
	assert.Equal(t, 0.0, out.LineItems[2].Hours, "malformed hours coerced")
	assert.Equal(t, "inv-100", out.LineItems[2].InvoiceID)

	assert.Equal(t, 3275.0, inv.TotalAmount, "total derived from items")
	assert.Equal(t, 4.5, inv.TotalHours)
	assert.Equal(t, 3, inv.LineItemCount)
	assert.Nil(t, inv.RiskLabel)

	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "lineItems[2].hours")
}

func TestNormalizeDefaults(t *testing.T) {
	req := InvoiceRequest{
		VendorID:  "v",
		LineItems: []LineItemRequest{{Description: "Review", Hours: NewNumber(1), Rate: NewNumber(100)}},
	}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	out, err := req.Normalize("t", now)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Invoice.ID)
	assert.Equal(t, now, out.Invoice.SubmittedAt)
	assert.Equal(t, out.Invoice.ID, out.LineItems[0].InvoiceID)
}

func TestNormalizeRiskLabel(t *testing.T) {
	base := func(label string) InvoiceRequest {
		var req InvoiceRequest
		payload := `{"vendorId":"v","riskLabel":` + label + `,"lineItems":[{"description":"x","hours":1,"rate":1}]}`
		require.NoError(t, json.Unmarshal([]byte(payload), &req))
		return req
	}

	req := base(`0.75`)
	out, err := req.Normalize("t", time.Now())
	require.NoError(t, err)
	require.NotNil(t, out.Invoice.RiskLabel)
	assert.Equal(t, 0.75, *out.Invoice.RiskLabel)

	req = base(`1.5`)
	out, err = req.Normalize("t", time.Now())
	require.NoError(t, err)
	assert.Nil(t, out.Invoice.RiskLabel)
	assert.NotEmpty(t, out.Warnings)

	req = base(`"high"`)
	out, err = req.Normalize("t", time.Now())
	require.NoError(t, err)
	assert.Nil(t, out.Invoice.RiskLabel)
}

func TestNormalizeTotalMismatch(t *testing.T) {
	req := InvoiceRequest{
		VendorID:    "v",
		TotalAmount: NewNumber(500),
		LineItems:   []LineItemRequest{{Description: "Call", Hours: NewNumber(1), Rate: NewNumber(100)}},
	}
	out, err := req.Normalize("t", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 500.0, out.Invoice.TotalAmount, "stated total is kept")
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "differs")
}

func TestNormalizeErrors(t *testing.T) {
	item := []LineItemRequest{{Description: "x"}}

	_, err := (&InvoiceRequest{VendorID: "v", LineItems: item}).Normalize("", time.Now())
	assert.ErrorIs(t, err, ErrTenantRequired)

	_, err = (&InvoiceRequest{LineItems: item}).Normalize("t", time.Now())
	assert.ErrorIs(t, err, ErrVendorRequired)

	_, err = (&InvoiceRequest{VendorID: "v", LineItems: make([]LineItemRequest, MaxLineItems+1)}).Normalize("t", time.Now())
	assert.ErrorIs(t, err, ErrTooManyLineItems)
}

func TestNormalizeWithoutLineItems(t *testing.T) {
	req := &InvoiceRequest{VendorID: "v", TotalAmount: NewNumber(500)}

	out, err := req.Normalize("t", time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, out.LineItems)
	assert.Equal(t, 500.0, out.Invoice.TotalAmount)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "no line items")
}
