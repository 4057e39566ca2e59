package clinical

import (
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-bexpr"

	"github.com/terraconstructs/fhirapi/internal/fhir"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
)

// evaluatorCache stores compiled go-bexpr evaluators keyed by expression.
var evaluatorCache = &sync.Map{}

// resourceFilter evaluates a _filter expression against resource documents,
// e.g. `gender == "female"` or `status in ["final", "amended"]`.
type resourceFilter struct {
	evaluator *bexpr.Evaluator
}

func compileFilter(expr string) (*resourceFilter, error) {
	expr = strings.TrimSpace(expr)
	if cached, ok := evaluatorCache.Load(expr); ok {
		return &resourceFilter{evaluator: cached.(*bexpr.Evaluator)}, nil
	}

	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, fhirerr.Validation("invalid _filter expression: %v", err)
	}
	evaluatorCache.Store(expr, evaluator)
	return &resourceFilter{evaluator: evaluator}, nil
}

// Match evaluates the expression over the JSON form of res. A selector that
// does not resolve on a document is a non-match.
func (f *resourceFilter) Match(res fhir.Resource) (bool, error) {
	doc, err := json.Marshal(res)
	if err != nil {
		return false, fhirerr.Serialization(err)
	}
	var datum map[string]any
	if err := json.Unmarshal(doc, &datum); err != nil {
		return false, fhirerr.Serialization(err)
	}

	matched, err := f.evaluator.Evaluate(datum)
	if err != nil {
		return false, nil
	}
	return matched, nil
}
