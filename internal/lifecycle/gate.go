package lifecycle

import (
	"strings"
	"time"

	"campusworks/internal/domain"
)

// OpenGate instantiates a review gate for subject with every template item
// unchecked. A positive window sets the revision deadline.
func OpenGate(id, projectID, subject string, template []domain.ChecklistItem, window time.Duration, now time.Time) domain.ReviewGate {
	ts := now.UTC()
	items := make([]domain.ChecklistItem, len(template))
	for i, it := range template {
		items[i] = domain.ChecklistItem{ID: it.ID, Label: it.Label}
	}
	g := domain.ReviewGate{
		ID:        id,
		ProjectID: projectID,
		Subject:   subject,
		Items:     items,
		OpenedAt:  ts,
	}
	if window > 0 {
		exp := ts.Add(window)
		g.RevisionWindowExpiresAt = &exp
	}
	return g
}

// CheckItem sets one checklist item.
func CheckItem(g *domain.ReviewGate, itemID string, value bool) error {
	if g.Passed {
		return domain.ErrGateAlreadyPassed.Withf("gate %s", g.Subject)
	}
	for i := range g.Items {
		if g.Items[i].ID == itemID {
			g.Items[i].Checked = value
			return nil
		}
	}
	return domain.ErrChecklistItemNotFound.Withf("item %q on gate %s", itemID, g.Subject)
}

// SetConsent records or withdraws the reviewing party's consent.
func SetConsent(g *domain.ReviewGate, value bool) error {
	if g.Passed {
		return domain.ErrGateAlreadyPassed.Withf("gate %s", g.Subject)
	}
	g.ConsentGiven = value
	return nil
}

// RequestChanges records an advisory change request. Checklist and consent
// state are left untouched.
func RequestChanges(g *domain.ReviewGate, cr domain.ChangeRequest, now time.Time) error {
	if g.Passed {
		return domain.ErrGateAlreadyPassed.Withf("gate %s", g.Subject)
	}
	if strings.TrimSpace(cr.Note) == "" {
		return domain.ErrInvalidInput.Withf("change request note required")
	}
	ts := now.UTC()
	// A gate opened without a window never accepts change requests.
	if g.RevisionWindowExpiresAt == nil {
		return domain.ErrRevisionWindowClosed.Withf("gate %s has no revision window", g.Subject)
	}
	if !ts.Before(*g.RevisionWindowExpiresAt) {
		return domain.ErrRevisionWindowClosed.Withf("expired at %s", g.RevisionWindowExpiresAt.Format(time.RFC3339))
	}
	cr.GateID = g.ID
	cr.Note = strings.TrimSpace(cr.Note)
	cr.CreatedAt = ts
	g.ChangeRequests = append(g.ChangeRequests, cr)
	return nil
}

// Complete reports whether every checklist item is checked.
func Complete(g domain.ReviewGate) bool {
	for _, it := range g.Items {
		if !it.Checked {
			return false
		}
	}
	return true
}

// PassGate makes the gate terminal and stamps it with token.
func PassGate(g *domain.ReviewGate, token string, now time.Time) (string, error) {
	if g.Passed {
		return "", domain.ErrGateAlreadyPassed.Withf("gate %s", g.Subject)
	}
	if !Complete(*g) {
		var open []string
		for _, it := range g.Items {
			if !it.Checked {
				open = append(open, it.ID)
			}
		}
		return "", domain.ErrChecklistIncomplete.Withf("unchecked: %s", strings.Join(open, ", "))
	}
	if !g.ConsentGiven {
		return "", domain.ErrConsentMissing.Withf("gate %s", g.Subject)
	}
	ts := now.UTC()
	g.Passed = true
	g.PassedAt = &ts
	g.PassToken = token
	return token, nil
}
