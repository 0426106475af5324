package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestExtractOrderAndValues(t *testing.T) {
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	saturday := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	inv := domain.Invoice{
		ID:           "inv-1",
		PracticeArea: "Commercial Litigation",
		SubmittedAt:  time.Date(2026, 3, 17, 12, 0, 0, 0, time.UTC),
	}
	items := []domain.LineItem{
		{Description: "Draft brief", Hours: 6, Rate: 500, TimekeeperName: "A. Partner", EntryDate: monday},
		{Description: "Research", Hours: 4, Rate: 250, TimekeeperName: "b.  associate", EntryDate: saturday},
		{Description: "Courier", Amount: 300, Type: domain.ItemTypeExpense, EntryDate: monday},
	}

	v := Extract(inv, items)
	require.Len(t, v, Len())

	assert.Equal(t, 4300.0, v.Get(TotalAmount))
	assert.Equal(t, 3.0, v.Get(LineItemCount))
	assert.Equal(t, 10.0, v.Get(TotalHours))
	assert.InDelta(t, 400.0, v.Get(AverageRate), 1e-9)
	assert.Equal(t, 2.0, v.Get(UniqueTimekeepers))
	assert.Equal(t, 1.0, v.Get(IsLitigation))
	assert.Equal(t, 1.0, v.Get(HasExpenses))
	assert.Equal(t, 10.0, v.Get(DaysToSubmission))
	assert.Equal(t, 6.0, v.Get(MaxLineHours))
	assert.InDelta(t, 0.075, v.Get(ExpenseRatio), 1e-9)
	assert.InDelta(t, 0.4, v.Get(WeekendHoursRatio), 1e-9)
	assert.InDelta(t, 0.6, v.Get(SeniorHoursRatio), 1e-9)
}

func TestExtractZeroFillsMalformedInput(t *testing.T) {
	items := []domain.LineItem{
		{Description: "x", Hours: math.NaN(), Rate: -20},
		{Description: "y", Hours: math.Inf(1), Rate: math.NaN()},
	}

	v := Extract(domain.Invoice{}, items)
	for i, f := range v {
		assert.False(t, math.IsNaN(f) || math.IsInf(f, 0), "feature %s is not finite", Names()[i])
		assert.GreaterOrEqual(t, f, 0.0)
	}
	assert.Equal(t, 2.0, v.Get(LineItemCount))
	assert.Equal(t, 0.0, v.Get(TotalHours))
}

func TestExtractEmptyInvoice(t *testing.T) {
	v := Extract(domain.Invoice{TotalAmount: 1200}, nil)
	require.Len(t, v, Len())
	assert.Equal(t, 1200.0, v[0])
	for _, f := range v[1:] {
		assert.Zero(t, f)
	}
}

func TestDaysToSubmissionNeverNegative(t *testing.T) {
	inv := domain.Invoice{
		SubmittedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.Zero(t, Extract(inv, nil).Get(DaysToSubmission))
}

func TestVectorMap(t *testing.T) {
	v := Extract(domain.Invoice{TotalAmount: 10}, nil)
	m := v.Map()
	assert.Len(t, m, Len())
	assert.Equal(t, 10.0, m[TotalAmount])
}
