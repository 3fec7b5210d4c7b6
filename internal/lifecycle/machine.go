package lifecycle

import (
	"fmt"
	"time"

	"campusworks/internal/domain"
)

// State is everything a project owns. Transitions mutate it in place; on
// error the caller must discard it.
type State struct {
	Project      domain.Project
	Applications []domain.Application
	Milestones   []domain.Milestone
	Ledger       *domain.EscrowLedger
	Gates        []domain.ReviewGate
}

// Gate returns the gate opened for subject, or nil.
func (s *State) Gate(subject string) *domain.ReviewGate {
	for i := range s.Gates {
		if s.Gates[i].Subject == subject {
			return &s.Gates[i]
		}
	}
	return nil
}

// ActiveGate returns the gate for the current review subject: the current
// milestone while in progress, the final delivery afterwards.
func (s *State) ActiveGate() *domain.ReviewGate {
	switch s.Project.Status {
	case domain.StatusInProgress:
		if m, ok := CurrentMilestone(s.Milestones); ok {
			return s.Gate(domain.MilestoneSubject(m.SequenceIndex))
		}
		return nil
	case domain.StatusPendingFinalReview, domain.StatusCompleted:
		return s.Gate(domain.FinalDeliverySubject)
	case domain.StatusCancelled:
		if len(s.Gates) > 0 {
			return &s.Gates[len(s.Gates)-1]
		}
	}
	return nil
}

// Policy carries the configurable parts of the lifecycle.
type Policy struct {
	Scale              int32
	RevisionWindow     time.Duration
	MilestoneChecklist []domain.ChecklistItem
	FinalChecklist     []domain.ChecklistItem
}

// Effect describes one committed change, recorded as an audit event.
type Effect struct {
	Type       string
	EntityKind string
	EntityID   string
	Payload    map[string]any
}

// Machine applies transitions to a project State.
type Machine struct {
	Policy Policy
	Now    func() time.Time
	NewID  func() string
}

func (m Machine) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m Machine) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

var transitions = map[domain.ProjectStatus][]domain.ProjectStatus{
	domain.StatusDraft:              {domain.StatusPendingReview, domain.StatusCancelled},
	domain.StatusPendingReview:      {domain.StatusLive, domain.StatusCancelled},
	domain.StatusLive:               {domain.StatusTeamSelected, domain.StatusCancelled},
	domain.StatusTeamSelected:       {domain.StatusInProgress, domain.StatusCancelled},
	domain.StatusInProgress:         {domain.StatusInProgress, domain.StatusPendingFinalReview, domain.StatusCancelled},
	domain.StatusPendingFinalReview: {domain.StatusCompleted, domain.StatusCancelled},
}

func ensureTransition(from, to domain.ProjectStatus) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return domain.ErrInvalidState.Withf("%s -> %s", from, to)
}

func (m Machine) move(s *State, to domain.ProjectStatus) error {
	if err := ensureTransition(s.Project.Status, to); err != nil {
		return err
	}
	s.Project.Status = to
	s.Project.UpdatedAt = m.now()
	return nil
}

func (m Machine) projectEffect(s *State, typ string, from domain.ProjectStatus, extra map[string]any) Effect {
	payload := map[string]any{"from": string(from), "to": string(s.Project.Status)}
	for k, v := range extra {
		payload[k] = v
	}
	return Effect{Type: typ, EntityKind: "project", EntityID: s.Project.ID, Payload: payload}
}

func gateEffect(typ string, g *domain.ReviewGate, extra map[string]any) Effect {
	payload := map[string]any{"subject": g.Subject}
	for k, v := range extra {
		payload[k] = v
	}
	return Effect{Type: typ, EntityKind: "gate", EntityID: g.ID, Payload: payload}
}

// Create builds the initial Draft state of a project.
func (m Machine) Create(in ProjectInput) (*State, []Effect, error) {
	p, err := NewProject(in, m.now())
	if err != nil {
		return nil, nil, err
	}
	s := &State{Project: p}
	return s, []Effect{{
		Type:       "project.created",
		EntityKind: "project",
		EntityID:   p.ID,
		Payload: map[string]any{
			"status":     string(p.Status),
			"budget":     p.Budget.String(),
			"milestones": len(p.Plan),
		},
	}}, nil
}

// Submit moves a Draft project into review.
func (m Machine) Submit(s *State) ([]Effect, error) {
	from := s.Project.Status
	if from != domain.StatusDraft {
		return nil, domain.ErrInvalidState.Withf("submit requires %s, project is %s", domain.StatusDraft, from)
	}
	if err := m.move(s, domain.StatusPendingReview); err != nil {
		return nil, err
	}
	return []Effect{m.projectEffect(s, "project.submitted", from, nil)}, nil
}

// Approve publishes a reviewed project; the application pool opens with it.
func (m Machine) Approve(s *State) ([]Effect, error) {
	from := s.Project.Status
	if from != domain.StatusPendingReview {
		return nil, domain.ErrInvalidState.Withf("approve requires %s, project is %s", domain.StatusPendingReview, from)
	}
	if err := m.move(s, domain.StatusLive); err != nil {
		return nil, err
	}
	return []Effect{m.projectEffect(s, "project.approved", from, nil)}, nil
}

// Apply adds a team application to a Live project.
func (m Machine) Apply(s *State, teamID, pitch string) (domain.Application, []Effect, error) {
	app, err := SubmitApplication(s.Project, s.Applications, teamID, pitch, m.now())
	if err != nil {
		return domain.Application{}, nil, err
	}
	replaced := false
	for i := range s.Applications {
		if s.Applications[i].TeamID == app.TeamID {
			s.Applications[i] = app
			replaced = true
		}
	}
	if !replaced {
		s.Applications = append(s.Applications, app)
	}
	return app, []Effect{{
		Type:       "application.submitted",
		EntityKind: "application",
		EntityID:   app.TeamID,
		Payload:    map[string]any{"team_id": app.TeamID},
	}}, nil
}

// SelectTeam closes the pool on teamID, initializes the milestone track and
// escrow ledger, and starts work.
func (m Machine) SelectTeam(s *State, teamID string) ([]Effect, error) {
	from := s.Project.Status
	if from != domain.StatusLive {
		if _, ok := SelectedTeam(s.Applications); ok {
			if _, err := SelectApplication(s.Applications, teamID, m.now()); err != nil {
				return nil, err
			}
		}
		return nil, domain.ErrInvalidState.Withf("select requires %s, project is %s", domain.StatusLive, from)
	}
	now := m.now()
	milestones, err := InitTrack(s.Project.ID, s.Project.Plan, now)
	if err != nil {
		return nil, err
	}
	ledger, err := InitLedger(s.Project.ID, s.Project.Budget, Percentages(s.Project.Plan), m.Policy.Scale, now)
	if err != nil {
		return nil, err
	}
	selected, err := SelectApplication(s.Applications, teamID, now)
	if err != nil {
		return nil, err
	}
	if err := m.move(s, domain.StatusTeamSelected); err != nil {
		return nil, err
	}
	s.Project.SelectedTeamID = selected
	effects := []Effect{m.projectEffect(s, "project.team_selected", from, map[string]any{
		"team_id":  selected,
		"rejected": len(s.Applications) - 1,
	})}

	s.Milestones = milestones
	s.Ledger = &ledger
	if err := m.move(s, domain.StatusInProgress); err != nil {
		return nil, err
	}
	effects = append(effects, m.projectEffect(s, "project.started", domain.StatusTeamSelected, map[string]any{
		"milestones": len(milestones),
		"total":      ledger.TotalAmount.String(),
	}))
	effects = append(effects, m.openGate(s, domain.MilestoneSubject(0), m.Policy.MilestoneChecklist, m.Policy.RevisionWindow))
	return effects, nil
}

func (m Machine) openGate(s *State, subject string, template []domain.ChecklistItem, window time.Duration) Effect {
	g := OpenGate(m.newID(), s.Project.ID, subject, template, window, m.now())
	s.Gates = append(s.Gates, g)
	extra := map[string]any{"items": len(g.Items)}
	if g.RevisionWindowExpiresAt != nil {
		extra["revision_window_expires_at"] = g.RevisionWindowExpiresAt.Format(time.RFC3339)
	}
	return gateEffect("gate.opened", &g, extra)
}

func (m Machine) activeGate(s *State) (*domain.ReviewGate, error) {
	switch s.Project.Status {
	case domain.StatusInProgress, domain.StatusPendingFinalReview:
	default:
		return nil, domain.ErrInvalidState.Withf("no review in progress, project is %s", s.Project.Status)
	}
	g := s.ActiveGate()
	if g == nil {
		return nil, domain.ErrGateNotFound.Withf("project %s", s.Project.ID)
	}
	return g, nil
}

// CheckGateItem sets one checklist item of the active gate.
func (m Machine) CheckGateItem(s *State, itemID string, value bool) ([]Effect, error) {
	g, err := m.activeGate(s)
	if err != nil {
		return nil, err
	}
	if err := CheckItem(g, itemID, value); err != nil {
		return nil, err
	}
	return []Effect{gateEffect("gate.item_checked", g, map[string]any{"item_id": itemID, "checked": value})}, nil
}

// GiveConsent records the reviewing party's consent on the active gate.
func (m Machine) GiveConsent(s *State, value bool) ([]Effect, error) {
	g, err := m.activeGate(s)
	if err != nil {
		return nil, err
	}
	if err := SetConsent(g, value); err != nil {
		return nil, err
	}
	return []Effect{gateEffect("gate.consent", g, map[string]any{"consent": value})}, nil
}

// RequestChanges records an advisory change request on the active gate.
func (m Machine) RequestChanges(s *State, note, actorID string) (domain.ChangeRequest, []Effect, error) {
	g, err := m.activeGate(s)
	if err != nil {
		return domain.ChangeRequest{}, nil, err
	}
	cr := domain.ChangeRequest{ID: m.newID(), Note: note, ActorID: actorID}
	if err := RequestChanges(g, cr, m.now()); err != nil {
		return domain.ChangeRequest{}, nil, err
	}
	cr = g.ChangeRequests[len(g.ChangeRequests)-1]
	return cr, []Effect{gateEffect("gate.changes_requested", g, map[string]any{"change_request_id": cr.ID, "note": cr.Note})}, nil
}

// PassGate passes the active gate and returns its pass token.
func (m Machine) PassGate(s *State) (string, []Effect, error) {
	g, err := m.activeGate(s)
	if err != nil {
		return "", nil, err
	}
	token, err := PassGate(g, m.newID(), m.now())
	if err != nil {
		return "", nil, err
	}
	return token, []Effect{gateEffect("gate.passed", g, nil)}, nil
}

// ApproveMilestone releases the current milestone's tranche and advances the
// track. Approving the last milestone opens the final delivery gate.
func (m Machine) ApproveMilestone(s *State) ([]Effect, error) {
	from := s.Project.Status
	if from != domain.StatusInProgress {
		return nil, domain.ErrInvalidState.Withf("approve milestone requires %s, project is %s", domain.StatusInProgress, from)
	}
	cur, ok := CurrentMilestone(s.Milestones)
	if !ok {
		return nil, domain.ErrNoCurrentMilestone
	}
	g := s.Gate(domain.MilestoneSubject(cur.SequenceIndex))
	if g == nil || !g.Passed {
		return nil, domain.ErrGateNotPassed.Withf("milestone %d", cur.SequenceIndex)
	}
	if s.Ledger == nil {
		return nil, domain.ErrInvalidState.Withf("project %s has no escrow ledger", s.Project.ID)
	}
	now := m.now()
	total, err := Release(s.Ledger, cur.SequenceIndex, now)
	if err != nil {
		return nil, err
	}
	entry := s.Ledger.Entries[len(s.Ledger.Entries)-1]
	complete, err := AdvanceTrack(s.Milestones, now)
	if err != nil {
		return nil, err
	}
	effects := []Effect{
		{
			Type:       "escrow.released",
			EntityKind: "escrow",
			EntityID:   s.Project.ID,
			Payload: map[string]any{
				"milestone_index": entry.MilestoneIndex,
				"amount":          entry.Amount.String(),
				"released":        total.String(),
				"pass_token":      g.PassToken,
			},
		},
		{
			Type:       "milestone.advanced",
			EntityKind: "milestone",
			EntityID:   domain.MilestoneSubject(cur.SequenceIndex),
			Payload:    map[string]any{"completed": cur.SequenceIndex, "track_complete": complete},
		},
	}
	if !complete {
		if err := m.move(s, domain.StatusInProgress); err != nil {
			return nil, err
		}
		effects = append(effects, m.openGate(s, domain.MilestoneSubject(cur.SequenceIndex+1), m.Policy.MilestoneChecklist, m.Policy.RevisionWindow))
		return effects, nil
	}
	if err := m.move(s, domain.StatusPendingFinalReview); err != nil {
		return nil, err
	}
	effects = append(effects, m.projectEffect(s, "project.final_review", from, nil))
	effects = append(effects, m.openGate(s, domain.FinalDeliverySubject, m.Policy.FinalChecklist, 0))
	return effects, nil
}

// ApproveFinal completes a project whose final delivery gate has passed and
// seals its ledger.
func (m Machine) ApproveFinal(s *State) ([]Effect, error) {
	from := s.Project.Status
	if from != domain.StatusPendingFinalReview {
		return nil, domain.ErrInvalidState.Withf("approve final requires %s, project is %s", domain.StatusPendingFinalReview, from)
	}
	g := s.Gate(domain.FinalDeliverySubject)
	if g == nil || !g.Passed {
		return nil, domain.ErrGateNotPassed.Withf("final delivery")
	}
	if err := m.move(s, domain.StatusCompleted); err != nil {
		return nil, err
	}
	extra := map[string]any{"pass_token": g.PassToken}
	if s.Ledger != nil {
		Seal(s.Ledger, m.now())
		extra["released"] = s.Ledger.ReleasedAmount.String()
	}
	return []Effect{m.projectEffect(s, "project.completed", from, extra)}, nil
}

// Cancel ends a project from any non-terminal status. Pending applications
// are rejected and held escrow is flagged refundable.
func (m Machine) Cancel(s *State, reason string) ([]Effect, error) {
	from := s.Project.Status
	if from.Terminal() {
		return nil, domain.ErrInvalidState.Withf("project is %s", from)
	}
	if err := m.move(s, domain.StatusCancelled); err != nil {
		return nil, err
	}
	now := m.now()
	s.Project.CancelReason = reason
	rejected := 0
	for i := range s.Applications {
		if s.Applications[i].Status == domain.ApplicationPending {
			s.Applications[i].Status = domain.ApplicationRejected
			s.Applications[i].UpdatedAt = now
			rejected++
		}
	}
	extra := map[string]any{"reason": reason, "rejected": rejected}
	if s.Ledger != nil {
		MarkRefundable(s.Ledger, now)
		_, held := Balance(*s.Ledger)
		extra["refundable"] = held.String()
	}
	return []Effect{m.projectEffect(s, "project.cancelled", from, extra)}, nil
}

// Snapshot renders the read model of s with applications ranked by criterion.
func Snapshot(s *State, teams map[string]domain.Team, criterion RankCriterion) domain.ProjectState {
	out := domain.ProjectState{
		Project:      s.Project,
		Milestones:   append([]domain.Milestone{}, s.Milestones...),
		Applications: RankApplications(s.Applications, teams, criterion),
		RankedBy:     string(criterion),
	}
	if cur, ok := CurrentMilestone(s.Milestones); ok {
		out.CurrentMilestone = &cur
	}
	if s.Ledger != nil {
		b := BalanceView(*s.Ledger)
		out.Ledger = &b
	}
	if g := s.ActiveGate(); g != nil {
		gate := *g
		out.Gate = &gate
	}
	return out
}
