package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var genNow = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

func TestGeneratorDeterministic(t *testing.T) {
	a := NewGenerator(11, 0.3, 5, genNow)
	b := NewGenerator(11, 0.3, 5, genNow)

	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Next("x", true), b.Next("x", true))
	}
}

func TestGeneratorLabels(t *testing.T) {
	g := NewGenerator(3, 0.5, 5, genNow)

	var anomalous, clean int
	for i := 0; i < 200; i++ {
		s := g.Next("seed", true)
		require.NotNil(t, s.Invoice.RiskLabel)
		label := *s.Invoice.RiskLabel
		assert.GreaterOrEqual(t, label, 0.0)
		assert.LessOrEqual(t, label, 1.0)

		if s.Anomalous {
			anomalous++
			assert.NotEmpty(t, s.Injected)
			assert.Greater(t, label, 0.5)
		} else {
			clean++
			assert.Empty(t, s.Injected)
			assert.Less(t, label, 0.25)
		}
		assert.NotEmpty(t, s.Invoice.LineItems)
		assert.NotEmpty(t, s.Invoice.VendorID)
	}
	assert.Positive(t, anomalous)
	assert.Positive(t, clean)
}

func TestGeneratorUnlabelled(t *testing.T) {
	g := NewGenerator(5, 0.2, 5, genNow)
	s := g.Next("score", false)
	assert.Nil(t, s.Invoice.RiskLabel)
	assert.Equal(t, "score-000001", s.Invoice.ID)
}

func TestGeneratorWeekdays(t *testing.T) {
	g := NewGenerator(9, 0, 5, genNow)
	for i := 0; i < 50; i++ {
		for _, li := range g.Next("w", false).Invoice.LineItems {
			d, err := time.Parse("2006-01-02", li.EntryDate)
			require.NoError(t, err)
			assert.NotEqual(t, time.Saturday, d.Weekday())
			assert.NotEqual(t, time.Sunday, d.Weekday())
		}
	}
}

func TestFlagged(t *testing.T) {
	assert.True(t, flagged("high", "high"))
	assert.False(t, flagged("medium", "high"))
	assert.True(t, flagged("medium", "medium"))
	assert.False(t, flagged("low", "medium"))
}
