package yield

import (
	"fmt"
)

// storage abstracts the subset of state manager functionality required by the
// distributor.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	ListLen(key []byte) (uint64, error)
	ListAppend(key []byte, value interface{}) (uint64, error)
	ListGet(key []byte, index uint64, out interface{}) (bool, error)
	NextSequence(key []byte) (uint64, error)
}

var (
	reportSeqKey   = []byte("yield/report/seq")
	reportIndexKey = []byte("yield/reports")
	totalsKey      = []byte("yield/totals")
	orderSeqKey    = []byte("yield/order/seq")
	orderIndexKey  = []byte("yield/orders")
)

func reportKey(id uint64) []byte {
	return []byte(fmt.Sprintf("yield/report/%d", id))
}

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("yield/order/%d", id))
}

func (e *Engine) appendReport(r *Report) error {
	id, err := e.store.NextSequence(reportSeqKey)
	if err != nil {
		return err
	}
	r.ID = id
	r.Timestamp = uint64(e.now().Unix())
	r.ensureDefaults()
	if err := e.store.KVPut(reportKey(id), r); err != nil {
		return fmt.Errorf("yield: persist report: %w", err)
	}
	if _, err := e.store.ListAppend(reportIndexKey, id); err != nil {
		return fmt.Errorf("yield: index report: %w", err)
	}
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	if r.Kind == ReportLoss {
		totals.Losses.Add(totals.Losses, r.Net)
	} else {
		totals.Gross.Add(totals.Gross, r.Gross)
		totals.Fees.Add(totals.Fees, r.Fee)
		totals.Net.Add(totals.Net, r.Net)
	}
	if err := e.store.KVPut(totalsKey, totals); err != nil {
		return fmt.Errorf("yield: persist totals: %w", err)
	}
	return nil
}

func (e *Engine) loadReport(id uint64) (*Report, bool, error) {
	var r Report
	ok, err := e.store.KVGet(reportKey(id), &r)
	if err != nil || !ok {
		return nil, ok, err
	}
	r.ensureDefaults()
	return &r, true, nil
}

func (e *Engine) loadTotals() (*Totals, error) {
	var t Totals
	if _, err := e.store.KVGet(totalsKey, &t); err != nil {
		return nil, fmt.Errorf("yield: load totals: %w", err)
	}
	t.ensureDefaults()
	return &t, nil
}

func (e *Engine) loadOrder(id uint64) (*RebalanceOrder, bool, error) {
	var o RebalanceOrder
	ok, err := e.store.KVGet(orderKey(id), &o)
	if err != nil || !ok {
		return nil, ok, err
	}
	o.ensureDefaults()
	return &o, true, nil
}

func (e *Engine) putOrder(o *RebalanceOrder) error {
	if err := e.store.KVPut(orderKey(o.ID), o); err != nil {
		return fmt.Errorf("yield: persist order %d: %w", o.ID, err)
	}
	return nil
}
