package export

// Field is a labelled summary value printed above the table.
type Field struct {
	Label string
	Value string
}

// Dataset defines a report: a title, summary fields and a table.
type Dataset struct {
	Title   string
	Summary []Field
	Headers []string
	Rows    []map[string]string
}

// Renderer turns a dataset into a file body.
type Renderer interface {
	Render(data Dataset) ([]byte, error)
	ContentType() string
	Extension() string
}

func (d Dataset) record(row map[string]string) []string {
	out := make([]string, len(d.Headers))
	for i, header := range d.Headers {
		out[i] = row[header]
	}
	return out
}
