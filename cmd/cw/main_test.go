package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusworks/internal/domain"
)

func TestParseMilestones(t *testing.T) {
	plan, err := parseMilestones([]string{"Design:30", "Build: 50", "20", "Launch: v2:0"})
	require.NoError(t, err)
	assert.Equal(t, []domain.MilestoneDefinition{
		{Title: "Design", ReleasePercentage: 30},
		{Title: "Build", ReleasePercentage: 50},
		{ReleasePercentage: 20},
		{Title: "Launch: v2", ReleasePercentage: 0},
	}, plan)

	_, err = parseMilestones([]string{"Design:thirty"})
	assert.Error(t, err)
}

func TestLedgerFlags(t *testing.T) {
	assert.Equal(t, "", ledgerFlags(domain.Balance{}))
	assert.Equal(t, " (refundable)", ledgerFlags(domain.Balance{Refundable: true}))
	assert.Equal(t, " (refundable, sealed)", ledgerFlags(domain.Balance{Refundable: true, Sealed: true}))
}
