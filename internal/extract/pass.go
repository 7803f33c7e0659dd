package extract

import (
	"github.com/svdb-hotmail/domscribr/internal/dom"
	"github.com/svdb-hotmail/domscribr/internal/events"
)

// PassResult is the outcome of one harvest pass.
type PassResult struct {
	Records    []events.MessageRecord
	Candidates int
	Empty      int
	Duplicates int
}

// Harvest runs candidate selection over root and builds a record for every
// new candidate, in candidate order.
func Harvest(root dom.Node, state *DedupState, env Env) PassResult {
	candidates := CollectCandidates(root)
	res := PassResult{Candidates: len(candidates)}
	for _, n := range candidates {
		rec, outcome := BuildMessage(n, state, env)
		switch outcome {
		case Built:
			res.Records = append(res.Records, rec)
		case Empty:
			res.Empty++
		case Duplicate:
			res.Duplicates++
		}
	}
	return res
}
