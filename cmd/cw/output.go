package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"campusworks/internal/domain"
)

func printJSONOrTable(v any, render func()) error {
	if viper.GetBool("json") || render == nil {
		return printJSON(v)
	}
	render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(title string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	if title != "" {
		tw.SetTitle(title)
	}
	return tw
}

func renderState(state domain.ProjectState) {
	p := state.Project
	tw := newTable(p.Title)
	tw.AppendRow(table.Row{"ID", p.ID})
	tw.AppendRow(table.Row{"Business", p.BusinessID})
	tw.AppendRow(table.Row{"Status", p.Status})
	tw.AppendRow(table.Row{"Budget", p.Budget.String()})
	if p.SelectedTeamID != "" {
		tw.AppendRow(table.Row{"Team", p.SelectedTeamID})
	}
	if p.CancelReason != "" {
		tw.AppendRow(table.Row{"Cancelled", p.CancelReason})
	}
	if b := state.Ledger; b != nil {
		tw.AppendRow(table.Row{"Escrow", fmt.Sprintf("released %s / held %s%s", b.Released, b.Held, ledgerFlags(*b))})
	}
	tw.Render()

	if len(state.Milestones) > 0 {
		mt := newTable("Milestones")
		mt.AppendHeader(table.Row{"#", "Title", "Release %", "Status", "Completed"})
		for _, m := range state.Milestones {
			mt.AppendRow(table.Row{m.SequenceIndex, m.Title, m.ReleasePercentage, m.Status, timeCell(m.CompletedAt)})
		}
		mt.Render()
	} else if len(p.Plan) > 0 {
		mt := newTable("Plan")
		mt.AppendHeader(table.Row{"#", "Title", "Release %"})
		for i, d := range p.Plan {
			mt.AppendRow(table.Row{i, d.Title, d.ReleasePercentage})
		}
		mt.Render()
	}

	if len(state.Applications) > 0 {
		renderApplications(state.Applications)
	}

	if g := state.Gate; g != nil {
		gt := newTable("Review gate " + g.Subject)
		gt.AppendHeader(table.Row{"Item", "Label", "Checked"})
		for _, it := range g.Items {
			gt.AppendRow(table.Row{it.ID, it.Label, checkMark(it.Checked)})
		}
		gt.AppendFooter(table.Row{"consent", checkMark(g.ConsentGiven), gateStatus(*g)})
		gt.Render()
		for _, cr := range g.ChangeRequests {
			fmt.Printf("  change requested by %s at %s: %s\n", cr.ActorID, cr.CreatedAt.Format(time.RFC3339), cr.Note)
		}
	}
}

func renderProjects(items []domain.Project) {
	tw := newTable("")
	tw.AppendHeader(table.Row{"ID", "Title", "Business", "Status", "Budget", "Team"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Title, p.BusinessID, p.Status, p.Budget.String(), p.SelectedTeamID})
	}
	tw.Render()
}

func renderApplications(items []domain.RankedApplication) {
	tw := newTable("Applications")
	tw.AppendHeader(table.Row{"Rank", "Team", "Status", "Key", "Submitted", "Pitch"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.Rank, a.TeamID, a.Status, strconv.FormatFloat(a.Key, 'f', -1, 64), a.SubmittedAt.Format(time.RFC3339), a.Pitch})
	}
	tw.Render()
}

func renderTeams(items []domain.Team) {
	tw := newTable("")
	tw.AppendHeader(table.Row{"ID", "Name", "Rating", "Past projects", "Reliability"})
	for _, t := range items {
		tw.AppendRow(table.Row{t.ID, t.Name, t.Rating, t.PastProjects, t.Reliability})
	}
	tw.Render()
}

func renderEvents(events []domain.Event) {
	tw := newTable("")
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Project", "Entity", "Actor"})
	for _, ev := range events {
		entity := ev.EntityKind
		if ev.EntityID != "" {
			entity += ":" + ev.EntityID
		}
		tw.AppendRow(table.Row{ev.ID, ev.TS.Format(time.RFC3339), ev.Type, ev.ProjectID, entity, ev.ActorID})
	}
	tw.Render()
}

func ledgerFlags(b domain.Balance) string {
	var flags []string
	if b.Refundable {
		flags = append(flags, "refundable")
	}
	if b.Sealed {
		flags = append(flags, "sealed")
	}
	if len(flags) == 0 {
		return ""
	}
	return " (" + strings.Join(flags, ", ") + ")"
}

func gateStatus(g domain.ReviewGate) string {
	if g.Passed {
		return "passed"
	}
	if g.RevisionWindowExpiresAt != nil {
		return "revisions until " + g.RevisionWindowExpiresAt.Format(time.RFC3339)
	}
	return "open"
}

func checkMark(ok bool) string {
	if ok {
		return "x"
	}
	return ""
}

func timeCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
