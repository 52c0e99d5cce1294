package handlers

import (
	"fmt"
	"time"

	"alephccn/pending"
	"alephccn/storage/cas"
	"alephccn/types"
)

// Registry wires the five message-type handlers together and satisfies
// pending.Registry (HandlerFor), closing the loop PMP opened when it
// defined that interface against its own consumer-side needs.
type Registry struct {
	aggregate *AggregateHandler
	post      *PostHandler
	store     *StoreHandler
	forget    *ForgetHandler
	program   *ProgramHandler
}

// NewRegistry builds every handler and wires FORGET's reverse-effect
// lookup to the three handlers that define one (AGGREGATE, POST, STORE).
func NewRegistry(tiebreak string, graceTemp, graceNormal time.Duration, backends cas.Backends) *Registry {
	aggregate := &AggregateHandler{Tiebreak: tiebreak}
	post := &PostHandler{}
	store := &StoreHandler{Backends: backends, GraceTemp: graceTemp, GraceNormal: graceNormal}

	forget := &ForgetHandler{
		Tiebreak: tiebreak,
		Reversers: map[types.MessageType]Reverser{
			types.TypeAggregate: aggregate,
			types.TypePost:      post,
			types.TypeStore:     store,
		},
	}

	return &Registry{
		aggregate: aggregate,
		post:      post,
		store:     store,
		forget:    forget,
		program:   &ProgramHandler{},
	}
}

// HandlerFor implements pending.Registry.
func (r *Registry) HandlerFor(t types.MessageType) (pending.Handler, error) {
	switch t {
	case types.TypeAggregate:
		return r.aggregate, nil
	case types.TypePost:
		return r.post, nil
	case types.TypeStore:
		return r.store, nil
	case types.TypeForget:
		return r.forget, nil
	case types.TypeProgram:
		return r.program, nil
	default:
		return nil, fmt.Errorf("handlers: no handler registered for message type %q", t)
	}
}
