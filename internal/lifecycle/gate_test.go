package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusworks/internal/domain"
)

var template = []domain.ChecklistItem{
	{ID: "deliverables", Label: "Deliverables uploaded"},
	{ID: "acceptance", Label: "Acceptance criteria met"},
}

func TestOpenGate(t *testing.T) {
	g := OpenGate("g1", "p1", domain.MilestoneSubject(0), template, 48*time.Hour, fixedNow)
	require.Len(t, g.Items, 2)
	for _, it := range g.Items {
		assert.False(t, it.Checked)
	}
	assert.False(t, g.ConsentGiven)
	require.NotNil(t, g.RevisionWindowExpiresAt)
	assert.Equal(t, fixedNow.Add(48*time.Hour), *g.RevisionWindowExpiresAt)

	final := OpenGate("g2", "p1", domain.FinalDeliverySubject, template, 0, fixedNow)
	assert.Nil(t, final.RevisionWindowExpiresAt)
}

func TestPassGateRequiresChecklistThenConsent(t *testing.T) {
	g := OpenGate("g1", "p1", "milestone:0", template, 0, fixedNow)

	_, err := PassGate(&g, "tok", fixedNow)
	assert.ErrorIs(t, err, domain.ErrChecklistIncomplete)

	require.NoError(t, CheckItem(&g, "deliverables", true))
	_, err = PassGate(&g, "tok", fixedNow)
	assert.ErrorIs(t, err, domain.ErrChecklistIncomplete)

	require.NoError(t, CheckItem(&g, "acceptance", true))
	_, err = PassGate(&g, "tok", fixedNow)
	assert.ErrorIs(t, err, domain.ErrConsentMissing)

	require.NoError(t, SetConsent(&g, true))
	token, err := PassGate(&g, "tok", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.True(t, g.Passed)

	assert.ErrorIs(t, CheckItem(&g, "acceptance", false), domain.ErrGateAlreadyPassed)
	assert.ErrorIs(t, SetConsent(&g, false), domain.ErrGateAlreadyPassed)
	_, err = PassGate(&g, "tok2", fixedNow)
	assert.ErrorIs(t, err, domain.ErrGateAlreadyPassed)
	assert.Equal(t, "tok", g.PassToken)
}

func TestCheckUnknownItem(t *testing.T) {
	g := OpenGate("g1", "p1", "milestone:0", template, 0, fixedNow)
	assert.ErrorIs(t, CheckItem(&g, "nope", true), domain.ErrChecklistItemNotFound)
}

func TestRequestChangesWindow(t *testing.T) {
	g := OpenGate("g1", "p1", "milestone:0", template, 48*time.Hour, fixedNow)
	require.NoError(t, CheckItem(&g, "deliverables", true))

	err := RequestChanges(&g, domain.ChangeRequest{ID: "c1", Note: "fix the logo", ActorID: "biz"}, fixedNow.Add(47*time.Hour))
	require.NoError(t, err)
	require.Len(t, g.ChangeRequests, 1)
	assert.Equal(t, "g1", g.ChangeRequests[0].GateID)
	// advisory only
	assert.True(t, g.Items[0].Checked)

	err = RequestChanges(&g, domain.ChangeRequest{ID: "c2", Note: "again"}, fixedNow.Add(48*time.Hour))
	assert.ErrorIs(t, err, domain.ErrRevisionWindowClosed)

	err = RequestChanges(&g, domain.ChangeRequest{ID: "c3", Note: " "}, fixedNow)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, CheckItem(&g, "acceptance", true))
	require.NoError(t, SetConsent(&g, true))
	_, err = PassGate(&g, "tok", fixedNow.Add(72*time.Hour))
	assert.NoError(t, err)
}

func TestRequestChangesWithoutWindow(t *testing.T) {
	g := OpenGate("g1", "p1", domain.FinalDeliverySubject, template, 0, fixedNow)

	err := RequestChanges(&g, domain.ChangeRequest{ID: "c1", Note: "redo the handover"}, fixedNow)
	assert.ErrorIs(t, err, domain.ErrRevisionWindowClosed)
	assert.Empty(t, g.ChangeRequests)
}
