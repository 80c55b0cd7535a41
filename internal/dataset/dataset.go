// Package dataset parses uploaded CSV or ZIP files into an immutable
// dataset: header metadata plus a bounded sample of typed rows.
package dataset

// Meta describes a loaded dataset.
type Meta struct {
	Filename    string   `json:"filename"`
	RowCount    int      `json:"rowCount"`
	ColumnCount int      `json:"columnCount"`
	Columns     []string `json:"columns"`
}

// Dataset is the loaded dataset. It is replaced wholesale on every load and
// never mutated after construction.
type Dataset struct {
	Meta    Meta
	Sample  []Row
	Headers []string
}

// New builds a Dataset from a parse result.
func New(filename string, res *ParseResult) *Dataset {
	cols := make([]string, len(res.Headers))
	copy(cols, res.Headers)
	return &Dataset{
		Meta: Meta{
			Filename:    filename,
			RowCount:    res.RowCount,
			ColumnCount: len(res.Headers),
			Columns:     cols,
		},
		Sample:  res.Sample,
		Headers: res.Headers,
	}
}
