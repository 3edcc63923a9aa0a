package routes

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"yieldprotocol/core/types"
	"yieldprotocol/gateway/middleware"
	"yieldprotocol/indexer"
	"yieldprotocol/native/collateral"
	"yieldprotocol/native/governance"
	"yieldprotocol/native/lending"
	"yieldprotocol/native/params"
	"yieldprotocol/native/token"
	"yieldprotocol/native/vault"
	"yieldprotocol/native/yield"
)

// Ledger is the protocol surface served over HTTP.
type Ledger interface {
	SetPrice(asset, rate string) error
	IssueAsset(ctx context.Context, caller, to [20]byte, asset string, amount *big.Int) error
	Deposit(ctx context.Context, owner [20]byte, asset string, amount *big.Int, lock types.LockPeriod) (uint64, error)
	Withdraw(ctx context.Context, caller [20]byte, positionID uint64) (*big.Int, error)
	EmergencyWithdraw(ctx context.Context, caller [20]byte, positionID uint64) (*big.Int, error)
	TransferPosition(ctx context.Context, caller [20]byte, positionID uint64, to [20]byte) error
	DepositYield(ctx context.Context, from [20]byte, gross *big.Int) (*yield.Report, error)
	SettleRebalance(ctx context.Context, caller [20]byte, orderID uint64, releaseAsset, deliverAsset string) (*yield.RebalanceOrder, error)
	RegisterCollateral(ctx context.Context, owner [20]byte, declaredValue *big.Int, grade uint64, meta collateral.Metadata) (uint64, error)
	RevalueCollateral(ctx context.Context, caller [20]byte, id uint64, value *big.Int) error
	ExpireCollateral(ctx context.Context, caller [20]byte, id uint64) error
	ProposeLoan(ctx context.Context, borrower [20]byte, amount *big.Int, collateralID uint64, terms lending.Terms) (uint64, uint64, error)
	Repay(ctx context.Context, payer [20]byte, loanID uint64, amount *big.Int) (*lending.RepaymentResult, error)
	CheckDefault(ctx context.Context, loanID uint64) (bool, error)
	SettleLiquidation(ctx context.Context, caller [20]byte, loanID uint64, recovered *big.Int) (*lending.LiquidationResult, error)
	CommitteeVote(ctx context.Context, proposalID uint64, member [20]byte, approve bool) (governance.ProposalStatus, error)
	ProposeTrade(ctx context.Context, proposer [20]byte, order governance.TradeOrder) (uint64, error)
	ProposeParamChange(ctx context.Context, proposer [20]byte, delta []byte) (uint64, error)
	Vote(ctx context.Context, proposalID uint64, voter [20]byte, choice string) (governance.ProposalStatus, error)
	ExpireProposal(ctx context.Context, proposalID uint64) (governance.ProposalStatus, error)
	ExecuteProposal(ctx context.Context, proposalID uint64) error

	Height() (uint64, error)
	Params() (params.ProtocolParams, error)
	Supply() (token.Supply, error)
	ExchangeRateRay() (*big.Int, error)
	BalanceOfUSD(addr [20]byte) (*big.Int, error)
	Holders(start, limit uint64) ([][20]byte, uint64, error)
	Holding(addr [20]byte) (token.Holding, error)
	AssetBalance(addr [20]byte, asset string) (*big.Int, error)
	Position(id uint64) (*vault.Position, error)
	Positions(owner [20]byte) ([]*vault.Position, error)
	PositionValue(id uint64) (*big.Int, error)
	Books() ([]*vault.Book, error)
	Collateral(id uint64) (*collateral.Record, error)
	CollateralOf(owner [20]byte) ([]*collateral.Record, error)
	LoanCollateral(loanID uint64) (*collateral.Record, error)
	Loan(id uint64) (*lending.Loan, error)
	LoansOf(borrower [20]byte) ([]*lending.Loan, error)
	Proposal(id uint64) (*governance.Proposal, error)
	Proposals() ([]*governance.Proposal, error)
	Tally(id uint64) (*governance.Tally, error)
	YieldTotals() (*yield.Totals, error)
	YieldReports(start, limit uint64) ([]*yield.Report, uint64, error)
	YieldReport(id uint64) (*yield.Report, error)
	RebalanceOrder(id uint64) (*yield.RebalanceOrder, error)
	OpenOrders() ([]*yield.RebalanceOrder, error)
}

type Config struct {
	Ledger        Ledger
	Indexer       *indexer.Indexer
	IdempotencyDB *gorm.DB
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Logger        *slog.Logger
	Timeout       time.Duration
}

type server struct {
	ledger  Ledger
	indexer *indexer.Indexer
	logger  *slog.Logger
	timeout time.Duration
}

// New builds the HTTP API. Reads are public; every mutating route requires a
// bearer token whose subject is the acting account.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{ledger: cfg.Ledger, indexer: cfg.Indexer, logger: logger, timeout: cfg.Timeout}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	group := func(route string, fn func(chi.Router)) {
		r.Route("/v1/"+route, func(sr chi.Router) {
			if cfg.Observability != nil {
				sr.Use(cfg.Observability.Middleware(route))
			}
			if cfg.RateLimiter != nil {
				sr.Use(cfg.RateLimiter.Middleware(route))
			}
			fn(sr)
		})
	}
	authed := func(sr chi.Router, scopes ...string) chi.Router {
		if cfg.Authenticator == nil {
			return sr.With(denyAll)
		}
		return sr.With(cfg.Authenticator.Middleware(scopes...), middleware.WithIdempotency(cfg.IdempotencyDB))
	}

	group("status", s.mountStatus)
	group("accounts", s.mountAccounts)
	group("vault", func(sr chi.Router) { s.mountVault(sr, authed(sr)) })
	group("yield", func(sr chi.Router) { s.mountYield(sr, authed(sr)) })
	group("collateral", func(sr chi.Router) { s.mountCollateral(sr, authed(sr)) })
	group("loans", func(sr chi.Router) { s.mountLoans(sr, authed(sr)) })
	group("proposals", func(sr chi.Router) { s.mountProposals(sr, authed(sr)) })
	group("events", s.mountEvents)
	group("admin", func(sr chi.Router) {
		authed(sr, middleware.ScopeOracle).Post("/prices", s.setPrice)
		authed(sr, middleware.ScopeTreasury).Post("/issue", s.issueAsset)
	})
	return r
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Code: "AuthDisabled", Message: "operator authentication not configured"})
	})
}

func (s *server) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

type statusResponse struct {
	Height          uint64 `json:"height"`
	ParamsVersion   uint64 `json:"paramsVersion"`
	ExchangeRateRay string `json:"exchangeRateRay"`
	TotalShares     string `json:"totalShares"`
	TotalBacking    string `json:"totalBacking"`
}

type holdersResponse struct {
	Total   uint64   `json:"total"`
	Holders []string `json:"holders"`
}

func (s *server) mountStatus(r chi.Router) {
	r.Get("/", s.status)
	r.Get("/params", s.params)
	r.Get("/holders", s.holders)
}

func (s *server) holders(w http.ResponseWriter, r *http.Request) {
	start, limit, err := pageQuery(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	holders, total, err := s.ledger.Holders(start, limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	out := holdersResponse{Total: total, Holders: make([]string, 0, len(holders))}
	for _, h := range holders {
		out.Holders = append(out.Holders, addressString(h))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	height, err := s.ledger.Height()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	p, err := s.ledger.Params()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	supply, err := s.ledger.Supply()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	rate, err := s.ledger.ExchangeRateRay()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Height:          height,
		ParamsVersion:   p.Version,
		ExchangeRateRay: amountString(rate),
		TotalShares:     amountString(supply.TotalShares),
		TotalBacking:    amountString(supply.TotalBacking),
	})
}

func (s *server) params(w http.ResponseWriter, r *http.Request) {
	p, err := s.ledger.Params()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
