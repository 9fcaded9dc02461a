package fusion

import (
	"math"

	"github.com/raphaelgruber/datafuse-go/internal/frame"
)

// ProblemType is the supervised task kind inferred for a target column.
type ProblemType string

const (
	Classification ProblemType = "classification"
	Regression     ProblemType = "regression"
)

// classificationMaxDistinct caps how many distinct integral values a
// numeric column may have and still be treated as a label.
const classificationMaxDistinct = 20

// DetectProblemType infers the task for a target column. Categorical
// columns are always classification. Numeric columns with any fractional
// value are regression; all-integral columns are classification only when
// the distinct count is small both absolutely and relative to the number
// of observed rows.
func DetectProblemType(col *frame.Column) ProblemType {
	if col.Kind == frame.Categorical {
		return Classification
	}
	distinct := make(map[float64]struct{})
	observed := 0
	for _, v := range col.Nums {
		if math.IsNaN(v) {
			continue
		}
		observed++
		if v != math.Trunc(v) {
			return Regression
		}
		distinct[v] = struct{}{}
	}
	limit := int(0.2 * float64(observed))
	if limit < 2 {
		limit = 2
	}
	if len(distinct) <= classificationMaxDistinct && len(distinct) <= limit {
		return Classification
	}
	return Regression
}
