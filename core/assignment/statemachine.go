package assignment

import "github.com/hfujita/wastematch/core/model"

// transitions is the single source of truth for the case lifecycle.
var transitions = map[model.CaseStatus][]model.CaseStatus{
	model.CaseNew:       {model.CaseMatching, model.CaseCancelled},
	model.CaseMatching:  {model.CaseAssigned, model.CaseCancelled},
	model.CaseAssigned:  {model.CaseCollected, model.CaseCancelled},
	model.CaseCollected: {model.CaseDisposed},
	model.CaseDisposed:  {},
	model.CaseCancelled: {},
}

// CanTransition reports whether the status change is allowed.
func CanTransition(from, to model.CaseStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
