package collateral

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	coreerrors "yieldprotocol/core/errors"
	"yieldprotocol/core/events"
	nativecommon "yieldprotocol/native/common"
	"yieldprotocol/native/params"
)

var errNilState = errors.New("collateral registry: state not configured")

// storage abstracts the subset of state manager functionality required by the
// registry.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	ListLen(key []byte) (uint64, error)
	ListAppend(key []byte, value interface{}) (uint64, error)
	ListGet(key []byte, index uint64, out interface{}) (bool, error)
	NextSequence(key []byte) (uint64, error)
}

type paramSource interface {
	Params() (params.ProtocolParams, error)
}

var recordSeqKey = []byte("collateral/seq")

func recordKey(id uint64) []byte {
	return []byte(fmt.Sprintf("collateral/record/%d", id))
}

func loanIndexKey(loanID uint64) []byte {
	return []byte(fmt.Sprintf("collateral/loan/%d", loanID))
}

func ownerIndexKey(owner [20]byte) []byte {
	return []byte(fmt.Sprintf("collateral/owner/%x", owner))
}

// Registry keeps collateral records in an id-keyed arena with a reverse index
// from loan id to collateral id.
type Registry struct {
	store   storage
	params  paramSource
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewRegistry constructs a registry bound to the provided storage backend.
func NewRegistry(store storage, p paramSource) *Registry {
	return &Registry{store: store, params: p, emitter: events.NoopEmitter{}, nowFn: func() time.Time { return time.Now().UTC() }}
}

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the clock used to stamp records.
func (r *Registry) SetNowFunc(now func() time.Time) {
	if now == nil {
		r.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	r.nowFn = now
}

func (r *Registry) now() uint64 {
	if r.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return uint64(r.nowFn().Unix())
}

func (r *Registry) ready() error {
	if r == nil || r.store == nil {
		return errNilState
	}
	return nil
}

func (r *Registry) guard() error {
	if r.params == nil {
		return nil
	}
	p, err := r.params.Params()
	if err != nil {
		return err
	}
	return nativecommon.Guard(p, params.ModuleCollateral)
}

func (r *Registry) load(id uint64) (*Record, error) {
	var rec Record
	ok, err := r.store.KVGet(recordKey(id), &rec)
	if err != nil {
		return nil, fmt.Errorf("collateral: load %d: %w", id, err)
	}
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrCollateralNotFound, "%d", id)
	}
	rec.ensureDefaults()
	return &rec, nil
}

func (r *Registry) put(rec *Record) error {
	rec.UpdatedAt = r.now()
	if err := r.store.KVPut(recordKey(rec.ID), rec); err != nil {
		return fmt.Errorf("collateral: persist %d: %w", rec.ID, err)
	}
	return nil
}

func (r *Registry) emitStatus(rec *Record) {
	evt := events.CollateralStatus{ID: rec.ID, Status: rec.Status.String(), LoanID: rec.LoanID}
	if rec.Status == StatusLiquidated {
		evt.Recovered = new(big.Int).Set(rec.Recovered)
	}
	r.emitter.Emit(evt)
}

// Register records a new lot for owner.
func (r *Registry) Register(owner [20]byte, declaredValue *big.Int, grade uint64, meta Metadata) (uint64, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	if err := r.guard(); err != nil {
		return 0, err
	}
	if !nativecommon.Positive(declaredValue) {
		return 0, coreerrors.ErrInvalidValuation
	}
	if err := nativecommon.CheckRange(declaredValue); err != nil {
		return 0, err
	}
	if grade < MinGrade || grade > MaxGrade {
		return 0, coreerrors.Wrap(coreerrors.ErrInvalidGrade, "got %d", grade)
	}
	meta.Batch = strings.TrimSpace(meta.Batch)
	meta.Origin = strings.TrimSpace(meta.Origin)
	id, err := r.store.NextSequence(recordSeqKey)
	if err != nil {
		return 0, err
	}
	rec := &Record{
		ID:            id,
		Owner:         owner,
		DeclaredValue: new(big.Int).Set(declaredValue),
		Grade:         grade,
		Status:        StatusRegistered,
		Meta:          meta,
		RegisteredAt:  r.now(),
		Recovered:     big.NewInt(0),
	}
	if err := r.put(rec); err != nil {
		return 0, err
	}
	if _, err := r.store.ListAppend(ownerIndexKey(owner), id); err != nil {
		return 0, err
	}
	r.emitter.Emit(events.CollateralRegistered{
		ID:    id,
		Owner: owner,
		Value: new(big.Int).Set(declaredValue),
		Grade: grade,
		Batch: meta.Batch,
	})
	return id, nil
}

// Reserve holds a registered lot for a proposed loan so no other proposal can
// claim it while the committee decides.
func (r *Registry) Reserve(id, loanID uint64) error {
	if err := r.ready(); err != nil {
		return err
	}
	if loanID == 0 {
		return coreerrors.Wrap(coreerrors.ErrLoanNotFound, "loan id required")
	}
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	if rec.Status != StatusRegistered {
		return coreerrors.Wrap(coreerrors.ErrAlreadyLocked, "collateral %d is %s", id, rec.Status)
	}
	return r.bind(rec, StatusReserved, loanID)
}

// Unreserve frees a lot whose proposed loan was rejected.
func (r *Registry) Unreserve(id, loanID uint64) error {
	if err := r.ready(); err != nil {
		return err
	}
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	if rec.Status != StatusReserved || rec.LoanID != loanID {
		return coreerrors.Wrap(coreerrors.ErrInvalidCollateral, "collateral %d is %s for loan %d", id, rec.Status, rec.LoanID)
	}
	rec.Status = StatusRegistered
	rec.LoanID = 0
	if err := r.put(rec); err != nil {
		return err
	}
	r.emitStatus(rec)
	return nil
}

// Lock pledges a lot to a loan. A reserved lot can only be pledged to the
// loan that reserved it.
func (r *Registry) Lock(id, loanID uint64) error {
	if err := r.ready(); err != nil {
		return err
	}
	if loanID == 0 {
		return coreerrors.Wrap(coreerrors.ErrLoanNotFound, "loan id required")
	}
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	free := rec.Status == StatusRegistered || (rec.Status == StatusReserved && rec.LoanID == loanID)
	if !free {
		return coreerrors.Wrap(coreerrors.ErrAlreadyLocked, "collateral %d is %s", id, rec.Status)
	}
	return r.bind(rec, StatusLocked, loanID)
}

func (r *Registry) bind(rec *Record, status Status, loanID uint64) error {
	rec.Status = status
	rec.LoanID = loanID
	if err := r.put(rec); err != nil {
		return err
	}
	if err := r.store.KVPut(loanIndexKey(loanID), rec.ID); err != nil {
		return err
	}
	r.emitStatus(rec)
	return nil
}

// Expire withdraws a registered lot that was never pledged, for instance
// once its warehouse receipt lapses. Only the valuation authority may call it.
func (r *Registry) Expire(caller [20]byte, id uint64) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.requireValuer(caller, "expiry"); err != nil {
		return err
	}
	return r.transition(id, StatusRegistered, StatusExpired)
}

// Release returns a pledged lot to its owner.
func (r *Registry) Release(id uint64) error {
	return r.transition(id, StatusLocked, StatusReleased)
}

// Liquidate marks a pledged lot for disposal.
func (r *Registry) Liquidate(id uint64) error {
	return r.transition(id, StatusLocked, StatusLiquidating)
}

func (r *Registry) transition(id uint64, from, to Status) error {
	if err := r.ready(); err != nil {
		return err
	}
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	if rec.Status != from {
		return coreerrors.Wrap(coreerrors.ErrInvalidCollateral, "collateral %d is %s, need %s", id, rec.Status, from)
	}
	rec.Status = to
	if err := r.put(rec); err != nil {
		return err
	}
	r.emitStatus(rec)
	return nil
}

// CompleteLiquidation records the proceeds of an external disposal and returns
// them.
func (r *Registry) CompleteLiquidation(id uint64, recovered *big.Int) (*big.Int, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	recovered = nativecommon.Copy(recovered)
	if recovered.Sign() < 0 {
		return nil, coreerrors.ErrInvalidAmount
	}
	rec, err := r.load(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusLiquidating {
		return nil, coreerrors.Wrap(coreerrors.ErrInvalidCollateral, "collateral %d is %s, need %s", id, rec.Status, StatusLiquidating)
	}
	rec.Status = StatusLiquidated
	rec.Recovered = recovered
	if err := r.put(rec); err != nil {
		return nil, err
	}
	r.emitStatus(rec)
	return new(big.Int).Set(recovered), nil
}

// Revalue updates the declared value. Only the valuation authority may call
// it, and settled lots cannot be revalued.
func (r *Registry) Revalue(caller [20]byte, id uint64, value *big.Int) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := r.requireValuer(caller, "revaluation"); err != nil {
		return err
	}
	if !nativecommon.Positive(value) {
		return coreerrors.ErrInvalidValuation
	}
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return coreerrors.Wrap(coreerrors.ErrInvalidCollateral, "collateral %d is %s", id, rec.Status)
	}
	previous := rec.DeclaredValue
	rec.DeclaredValue = new(big.Int).Set(value)
	if err := r.put(rec); err != nil {
		return err
	}
	r.emitter.Emit(events.CollateralRevalued{ID: id, Previous: previous, Current: new(big.Int).Set(value)})
	return nil
}

func (r *Registry) requireValuer(caller [20]byte, action string) error {
	if r.params == nil {
		return errNilState
	}
	p, err := r.params.Params()
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(p, params.ModuleCollateral); err != nil {
		return err
	}
	authority, ok, err := params.Authority(p.ValuationAuthority)
	if err != nil {
		return err
	}
	if !ok || caller != authority {
		return coreerrors.Wrap(coreerrors.ErrUnauthorized, "%s requires the valuation authority", action)
	}
	return nil
}

// Record returns a copy of the stored record.
func (r *Registry) Record(id uint64) (*Record, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.load(id)
}

// LoanFor returns the loan a lot is pledged to, or zero.
func (r *Registry) LoanFor(id uint64) (uint64, error) {
	rec, err := r.Record(id)
	if err != nil {
		return 0, err
	}
	switch rec.Status {
	case StatusReserved, StatusLocked, StatusLiquidating:
		return rec.LoanID, nil
	default:
		return 0, nil
	}
}

// CollateralForLoan resolves the reverse index. A lot released from a
// rejected reservation no longer resolves.
func (r *Registry) CollateralForLoan(loanID uint64) (uint64, bool, error) {
	if err := r.ready(); err != nil {
		return 0, false, err
	}
	var id uint64
	ok, err := r.store.KVGet(loanIndexKey(loanID), &id)
	if err != nil || !ok {
		return 0, false, err
	}
	rec, err := r.load(id)
	if err != nil {
		return 0, false, err
	}
	if rec.LoanID != loanID {
		return 0, false, nil
	}
	return id, true, nil
}

// ByOwner lists every record registered by owner.
func (r *Registry) ByOwner(owner [20]byte) ([]*Record, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	ids, err := nativecommon.IDs(r.store, ownerIndexKey(owner))
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
