package budget

import (
	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/retrieval"
)

// safetyMargin is the share of the overall budget actually handed to the
// sub-budgets. The remainder absorbs the chars/4 estimation error.
const safetyMargin = 0.9

// Budget is the token budget for one context assembly, split into the
// conversation-local and user-global sub-budgets.
type Budget struct {
	// Total is the overall budget. Fitting stops once the running total
	// reaches it, regardless of sub-budget headroom.
	Total int

	// ConversationLocal bounds memories tied to the current conversation.
	ConversationLocal int

	// UserGlobal bounds owner-wide memories.
	UserGlobal int
}

// SplitBudget divides an overall budget: 40% conversation-local, 60%
// user-global, after the safety margin.
func SplitBudget(total int) Budget {
	usable := int(float64(total) * safetyMargin)
	local := usable * 40 / 100
	return Budget{
		Total:             total,
		ConversationLocal: local,
		UserGlobal:        usable - local,
	}
}

// Fitted is the outcome of a fitting pass.
type Fitted struct {
	ConversationLocal []*memory.RetrievalResult
	UserGlobal        []*memory.RetrievalResult

	LocalTokens  int
	GlobalTokens int
}

// All returns both buckets as one slice, conversation-local entries first.
// Each bucket keeps its internal rank order.
func (f *Fitted) All() []*memory.RetrievalResult {
	out := make([]*memory.RetrievalResult, 0, len(f.ConversationLocal)+len(f.UserGlobal))
	out = append(out, f.ConversationLocal...)
	out = append(out, f.UserGlobal...)
	return out
}

// TotalTokens returns the combined estimated cost of both buckets.
func (f *Fitted) TotalTokens() int {
	return f.LocalTokens + f.GlobalTokens
}

// FitMemoriesInBudget greedily accepts ranked results into the correct
// sub-budget while that sub-budget's running counter stays under its bound,
// and stops globally once the combined total reaches the overall budget.
//
// Never fails: the result holds whatever fit, possibly nothing. A zero
// budget yields an empty result, keeping the core functional when quota
// enforcement upstream hands down nothing.
func FitMemoriesInBudget(ranked []*memory.RetrievalResult, b Budget, current memory.ConversationRef) *Fitted {
	fitted := &Fitted{}

	for _, r := range ranked {
		cost := EstimateTokens(r.Memory.Content)
		if fitted.TotalTokens()+cost > b.Total {
			break
		}

		if isConversationLocal(r, current) {
			if fitted.LocalTokens+cost > b.ConversationLocal {
				continue
			}
			fitted.ConversationLocal = append(fitted.ConversationLocal, r)
			fitted.LocalTokens += cost
		} else {
			if fitted.GlobalTokens+cost > b.UserGlobal {
				continue
			}
			fitted.UserGlobal = append(fitted.UserGlobal, r)
			fitted.GlobalTokens += cost
		}
	}
	return fitted
}

// isConversationLocal routes a result to the conversation-local sub-budget:
// transcript hits from the current conversation and memories extracted from
// it are local, everything else is user-global.
func isConversationLocal(r *memory.RetrievalResult, current memory.ConversationRef) bool {
	if current.ConversationID == "" {
		return r.Source == retrieval.SourceConversation
	}
	return r.Memory.ConversationID == current.ConversationID
}
