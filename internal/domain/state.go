package domain

import "github.com/shopspring/decimal"

// Balance is the read model of an escrow ledger.
type Balance struct {
	Total      decimal.Decimal `json:"total"`
	Released   decimal.Decimal `json:"released"`
	Held       decimal.Decimal `json:"held"`
	Refundable bool            `json:"refundable"`
	Sealed     bool            `json:"sealed"`
	Entries    []LedgerEntry   `json:"entries"`
}

type RankedApplication struct {
	Application
	Rank int     `json:"rank"`
	Team *Team   `json:"team,omitempty"`
	Key  float64 `json:"key"`
}

// ProjectState is the full snapshot a project renders from.
type ProjectState struct {
	Project          Project             `json:"project"`
	CurrentMilestone *Milestone          `json:"current_milestone,omitempty"`
	Milestones       []Milestone         `json:"milestones"`
	Ledger           *Balance            `json:"ledger,omitempty"`
	Applications     []RankedApplication `json:"applications"`
	RankedBy         string              `json:"ranked_by"`
	Gate             *ReviewGate         `json:"gate,omitempty"`
}
