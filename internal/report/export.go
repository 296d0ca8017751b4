package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" and "json"; empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType is the MIME type of an export in format f.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

// Export serializes a descriptor. CSV carries only the table; JSON carries
// the whole descriptor. Output is byte-identical for identical input.
func Export(d Descriptor, f Format) ([]byte, error) {
	switch f {
	case FormatCSV, "":
		var buf bytes.Buffer
		if err := WriteCSV(&buf, d.Data); err != nil {
			return nil, fmt.Errorf("export %s: %w", d.ID, err)
		}
		return buf.Bytes(), nil
	case FormatJSON:
		b, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", d.ID, err)
		}
		return append(b, '\n'), nil
	default:
		return nil, fmt.Errorf("export %s: unsupported format %q", d.ID, f)
	}
}

func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// ParseCSV reads a table written by WriteCSV.
func ParseCSV(r io.Reader) (Table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return Table{}, fmt.Errorf("parse csv: missing header")
	}
	return Table{Columns: records[0], Rows: records[1:]}, nil
}
