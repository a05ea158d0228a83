package export

import "fmt"

// Dataset defines tabular export content. Rows are keyed by header.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

func (d Dataset) validate(format string) error {
	if len(d.Headers) == 0 {
		return fmt.Errorf("%s requires at least one header", format)
	}
	return nil
}

// record returns row i ordered by Headers; missing keys become empty cells.
func (d Dataset) record(i int) []string {
	out := make([]string, len(d.Headers))
	for col, header := range d.Headers {
		out[col] = d.Rows[i][header]
	}
	return out
}
