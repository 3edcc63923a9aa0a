package routes

import (
	"yieldprotocol/native/collateral"
	"yieldprotocol/native/governance"
	"yieldprotocol/native/lending"
	"yieldprotocol/native/vault"
	"yieldprotocol/native/yield"
)

type positionView struct {
	ID            uint64 `json:"id"`
	Owner         string `json:"owner"`
	Class         string `json:"class"`
	Asset         string `json:"asset"`
	AssetUnits    string `json:"assetUnits"`
	Principal     string `json:"principal"`
	LockPeriod    string `json:"lockPeriod"`
	MultiplierBps uint64 `json:"multiplierBps"`
	StartTime     uint64 `json:"startTime"`
	UnlockTime    uint64 `json:"unlockTime"`
	Shares        string `json:"shares"`
	Status        string `json:"status"`
	ClosedAt      uint64 `json:"closedAt,omitempty"`
	PaidUSD       string `json:"paidUsd,omitempty"`
	Penalty       string `json:"penalty,omitempty"`
	Value         string `json:"value,omitempty"`
}

func newPositionView(p *vault.Position) positionView {
	view := positionView{
		ID:            p.ID,
		Owner:         addressString(p.Owner),
		Class:         p.Class.String(),
		Asset:         p.Asset,
		AssetUnits:    amountString(p.AssetUnits),
		Principal:     amountString(p.Principal),
		LockPeriod:    p.LockPeriod.String(),
		MultiplierBps: p.MultiplierBps,
		StartTime:     p.StartTime,
		UnlockTime:    p.UnlockTime,
		Shares:        amountString(p.Shares),
		Status:        p.Status.String(),
		ClosedAt:      p.ClosedAt,
	}
	if p.PaidUSD != nil && p.PaidUSD.Sign() > 0 {
		view.PaidUSD = p.PaidUSD.String()
	}
	if p.Penalty != nil && p.Penalty.Sign() > 0 {
		view.Penalty = p.Penalty.String()
	}
	return view
}

type bookView struct {
	Class     string `json:"class"`
	Liquidity string `json:"liquidity"`
	Lent      string `json:"lent"`
	Reserve   string `json:"reserve"`
	Shares    string `json:"shares"`
	Principal string `json:"principal"`
	Positions uint64 `json:"positions"`
}

func newBookView(b *vault.Book) bookView {
	return bookView{
		Class:     b.Class.String(),
		Liquidity: amountString(b.Liquidity),
		Lent:      amountString(b.Lent),
		Reserve:   amountString(b.Reserve),
		Shares:    amountString(b.Shares),
		Principal: amountString(b.Principal),
		Positions: b.Positions,
	}
}

type collateralView struct {
	ID            uint64 `json:"id"`
	Owner         string `json:"owner"`
	DeclaredValue string `json:"declaredValue"`
	Grade         uint64 `json:"grade"`
	Status        string `json:"status"`
	LoanID        uint64 `json:"loanId,omitempty"`
	Batch         string `json:"batch,omitempty"`
	QuantityKg    uint64 `json:"quantityKg,omitempty"`
	Origin        string `json:"origin,omitempty"`
	HarvestDate   uint64 `json:"harvestDate,omitempty"`
	RegisteredAt  uint64 `json:"registeredAt"`
	UpdatedAt     uint64 `json:"updatedAt"`
	Recovered     string `json:"recovered,omitempty"`
}

func newCollateralView(rec *collateral.Record) collateralView {
	view := collateralView{
		ID:            rec.ID,
		Owner:         addressString(rec.Owner),
		DeclaredValue: amountString(rec.DeclaredValue),
		Grade:         rec.Grade,
		Status:        rec.Status.String(),
		LoanID:        rec.LoanID,
		Batch:         rec.Meta.Batch,
		QuantityKg:    rec.Meta.QuantityKg,
		Origin:        rec.Meta.Origin,
		HarvestDate:   rec.Meta.HarvestDate,
		RegisteredAt:  rec.RegisteredAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if rec.Recovered != nil && rec.Recovered.Sign() > 0 {
		view.Recovered = rec.Recovered.String()
	}
	return view
}

type loanView struct {
	ID           uint64 `json:"id"`
	Borrower     string `json:"borrower"`
	Principal    string `json:"principal"`
	Outstanding  string `json:"outstanding"`
	InterestBps  uint64 `json:"interestBps"`
	DurationSecs uint64 `json:"durationSecs"`
	InterestDue  string `json:"interestDue"`
	InterestPaid string `json:"interestPaid"`
	CollateralID uint64 `json:"collateralId"`
	ProposalID   uint64 `json:"proposalId"`
	Status       string `json:"status"`
	CreatedAt    uint64 `json:"createdAt"`
	DisbursedAt  uint64 `json:"disbursedAt,omitempty"`
	Maturity     uint64 `json:"maturity,omitempty"`
	ClosedAt     uint64 `json:"closedAt,omitempty"`
	Recovered    string `json:"recovered,omitempty"`
}

func newLoanView(loan *lending.Loan) loanView {
	view := loanView{
		ID:           loan.ID,
		Borrower:     addressString(loan.Borrower),
		Principal:    amountString(loan.Principal),
		Outstanding:  amountString(loan.Outstanding),
		InterestBps:  loan.InterestBps,
		DurationSecs: loan.DurationSecs,
		InterestDue:  amountString(loan.InterestDue),
		InterestPaid: amountString(loan.InterestPaid),
		CollateralID: loan.CollateralID,
		ProposalID:   loan.ProposalID,
		Status:       loan.Status.String(),
		CreatedAt:    loan.CreatedAt,
		DisbursedAt:  loan.DisbursedAt,
		Maturity:     loan.Maturity,
		ClosedAt:     loan.ClosedAt,
	}
	if loan.Recovered != nil && loan.Recovered.Sign() > 0 {
		view.Recovered = loan.Recovered.String()
	}
	return view
}

type tallyView struct {
	Yes     string `json:"yes"`
	No      string `json:"no"`
	Abstain string `json:"abstain"`
	Total   string `json:"total"`
	Quorum  uint64 `json:"quorum"`
	Ballots uint64 `json:"ballots"`
}

type proposalView struct {
	ID             uint64     `json:"id"`
	Kind           string     `json:"kind"`
	Proposer       string     `json:"proposer"`
	LoanID         uint64     `json:"loanId,omitempty"`
	Payload        string     `json:"payload,omitempty"`
	Trade          *tradeView `json:"trade,omitempty"`
	Electorate     []string   `json:"electorate,omitempty"`
	Quorum         uint64     `json:"quorum"`
	SnapshotHeight uint64     `json:"snapshotHeight"`
	SnapshotTotal  string     `json:"snapshotTotal"`
	Status         string     `json:"status"`
	CreatedAt      uint64     `json:"createdAt"`
	VotingEnd      uint64     `json:"votingEnd"`
	ClosedAt       uint64     `json:"closedAt,omitempty"`
	Tally          *tallyView `json:"tally,omitempty"`
}

type tradeView struct {
	AssetIn      string `json:"assetIn"`
	AssetOut     string `json:"assetOut"`
	AmountIn     string `json:"amountIn"`
	MinAmountOut string `json:"minAmountOut"`
	Deadline     uint64 `json:"deadline"`
}

func newProposalView(p *governance.Proposal, tally *governance.Tally) proposalView {
	view := proposalView{
		ID:             p.ID,
		Kind:           p.Kind.String(),
		Proposer:       addressString(p.Proposer),
		LoanID:         p.LoanID,
		Payload:        string(p.Payload),
		Quorum:         p.Quorum,
		SnapshotHeight: p.SnapshotHeight,
		SnapshotTotal:  amountString(p.SnapshotTotal),
		Status:         p.Status.String(),
		CreatedAt:      p.CreatedAt,
		VotingEnd:      p.VotingEnd,
		ClosedAt:       p.ClosedAt,
	}
	if p.Kind == governance.ProposalKindTradeApproval {
		view.Trade = &tradeView{
			AssetIn:      p.Trade.AssetIn,
			AssetOut:     p.Trade.AssetOut,
			AmountIn:     amountString(p.Trade.AmountIn),
			MinAmountOut: amountString(p.Trade.MinAmountOut),
			Deadline:     p.Trade.Deadline,
		}
	}
	for _, member := range p.Electorate {
		view.Electorate = append(view.Electorate, addressString(member))
	}
	if tally != nil {
		view.Tally = &tallyView{
			Yes:     amountString(tally.Yes),
			No:      amountString(tally.No),
			Abstain: amountString(tally.Abstain),
			Total:   amountString(tally.Total),
			Quorum:  tally.Quorum,
			Ballots: tally.Ballots,
		}
	}
	return view
}

type reportView struct {
	ID        uint64 `json:"id"`
	Kind      string `json:"kind"`
	Source    string `json:"source"`
	Gross     string `json:"gross"`
	Fee       string `json:"fee"`
	Net       string `json:"net"`
	Timestamp uint64 `json:"timestamp"`
}

func newReportView(r *yield.Report) reportView {
	return reportView{
		ID:        r.ID,
		Kind:      r.Kind.String(),
		Source:    r.Source.String(),
		Gross:     amountString(r.Gross),
		Fee:       amountString(r.Fee),
		Net:       amountString(r.Net),
		Timestamp: r.Timestamp,
	}
}

type orderView struct {
	ID        uint64 `json:"id"`
	ReportID  uint64 `json:"reportId"`
	From      string `json:"from"`
	To        string `json:"to"`
	USD       string `json:"usd"`
	Status    string `json:"status"`
	CreatedAt uint64 `json:"createdAt"`
	SettledAt uint64 `json:"settledAt,omitempty"`
	Operator  string `json:"operator,omitempty"`
}

func newOrderView(o *yield.RebalanceOrder) orderView {
	return orderView{
		ID:        o.ID,
		ReportID:  o.ReportID,
		From:      o.From.String(),
		To:        o.To.String(),
		USD:       amountString(o.USD),
		Status:    o.Status.String(),
		CreatedAt: o.CreatedAt,
		SettledAt: o.SettledAt,
		Operator:  addressString(o.Operator),
	}
}
