// Package registry holds the active risk model and manages its training
// lifecycle. Scoring reads the active model without locks; training replaces
// it with a single atomic swap.
package registry

import (
	"sync/atomic"

	"github.com/opensource-finance/kestrel/internal/model"
)

// Kind tags the registry state.
type Kind string

const (
	// NotTrained means no model has ever been loaded or trained.
	NotTrained Kind = "not_trained"

	// Ready means a model is active.
	Ready Kind = "ready"

	// TrainingFailed means no model is active and the last attempt failed.
	TrainingFailed Kind = "training_failed"
)

// State is a tagged snapshot of the registry. Model is set only for Ready;
// Reason only for TrainingFailed.
type State struct {
	Kind   Kind
	Model  *model.TrainedModel
	Reason string
}

// Registry holds the active model. The zero value is not usable; call New.
type Registry struct {
	state atomic.Pointer[State]
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	r.state.Store(&State{Kind: NotTrained})
	return r
}

// State returns the current snapshot. Callers keep using the model they
// captured even if a swap happens afterwards.
func (r *Registry) State() State {
	return *r.state.Load()
}

// Active returns the active model, if any.
func (r *Registry) Active() (*model.TrainedModel, bool) {
	s := r.state.Load()
	return s.Model, s.Kind == Ready
}

// Swap makes m the active model and returns the model it replaced.
func (r *Registry) Swap(m *model.TrainedModel) *model.TrainedModel {
	prev := r.state.Swap(&State{Kind: Ready, Model: m})
	return prev.Model
}

// MarkFailed records a failed training attempt. An active model is kept and
// the state stays Ready.
func (r *Registry) MarkFailed(reason string) {
	for {
		cur := r.state.Load()
		if cur.Kind == Ready {
			return
		}
		if r.state.CompareAndSwap(cur, &State{Kind: TrainingFailed, Reason: reason}) {
			return
		}
	}
}
