package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotInitialised is returned when the parameter set has never been written.
var ErrNotInitialised = errors.New("params: protocol parameters not initialised")

// StoreState captures the subset of state manager capabilities required by the
// parameter helpers.
type StoreState interface {
	ParamStoreSet(name string, value []byte) error
	ParamStoreGet(name string) ([]byte, bool, error)
}

// Store provides typed accessors for governance-controlled parameters.
type Store struct {
	state StoreState
}

// NewStore constructs a parameter store wrapper using the supplied state
// backend.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

// Params loads the current parameter set.
func (s *Store) Params() (ProtocolParams, error) {
	state, err := s.withState()
	if err != nil {
		return ProtocolParams{}, err
	}
	raw, ok, err := state.ParamStoreGet(ParamsKeyProtocol)
	if err != nil {
		return ProtocolParams{}, err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return ProtocolParams{}, ErrNotInitialised
	}
	var p ProtocolParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return ProtocolParams{}, fmt.Errorf("params: decode protocol: %w", err)
	}
	return p, nil
}

// Initialise writes the genesis parameter set. Version is forced to 1.
func (s *Store) Initialise(p ProtocolParams) error {
	p = p.Clone()
	p.Version = 1
	return s.put(p)
}

func (s *Store) put(p ProtocolParams) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("params: encode protocol: %w", err)
	}
	return state.ParamStoreSet(ParamsKeyProtocol, encoded)
}

// Apply merges a JSON delta over the stored set, validates the result and
// persists it with the next version. The applied set is returned.
func (s *Store) Apply(delta []byte) (ProtocolParams, error) {
	current, err := s.Params()
	if err != nil {
		return ProtocolParams{}, err
	}
	next, err := Preflight(current, delta)
	if err != nil {
		return ProtocolParams{}, err
	}
	if err := s.put(next); err != nil {
		return ProtocolParams{}, err
	}
	return next, nil
}
