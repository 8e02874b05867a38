package domain

import (
	"fmt"
)

// Row is a single record keyed by column name. A nil value means the cell
// is missing.
type Row map[string]any

// Dataset is an in-memory tabular dataset with ordered, named columns.
// It is the read-only view shared across concurrent rule evaluations, so
// augmentation always copies rather than mutating in place.
type Dataset struct {
	columns []string
	rows    []Row
}

// NewDataset creates a dataset with the given column order.
func NewDataset(columns []string, rows []Row) *Dataset {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Dataset{columns: cols, rows: rows}
}

// Columns returns the column names in order.
func (d *Dataset) Columns() []string {
	cols := make([]string, len(d.columns))
	copy(cols, d.columns)
	return cols
}

// HasColumn reports whether the dataset has the named column.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.columns {
		if c == name {
			return true
		}
	}
	return false
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.rows)
}

// Row returns the i-th row.
func (d *Dataset) Row(i int) Row {
	return d.rows[i]
}

// Rows returns all rows.
func (d *Dataset) Rows() []Row {
	return d.rows
}

// Column returns the values of the named column in row order. Missing
// cells come back as nil.
func (d *Dataset) Column(name string) []any {
	values := make([]any, len(d.rows))
	for i, row := range d.rows {
		values[i] = row[name]
	}
	return values
}

// WithColumn returns a copy of the dataset with one extra column appended.
// The value count must match the row count.
func (d *Dataset) WithColumn(name string, values []any) (*Dataset, error) {
	if len(values) != len(d.rows) {
		return nil, fmt.Errorf("column %s has %d values for %d rows", name, len(values), len(d.rows))
	}
	columns := append(d.Columns(), name)
	rows := make([]Row, len(d.rows))
	for i, row := range d.rows {
		next := make(Row, len(row)+1)
		for k, v := range row {
			next[k] = v
		}
		next[name] = values[i]
		rows[i] = next
	}
	return &Dataset{columns: columns, rows: rows}, nil
}

// Select returns a dataset containing the rows for which keep returns true.
// Rows are shared with the receiver; the selection itself is a new dataset.
func (d *Dataset) Select(keep func(Row) bool) *Dataset {
	var rows []Row
	for _, row := range d.rows {
		if keep(row) {
			rows = append(rows, row)
		}
	}
	return &Dataset{columns: d.Columns(), rows: rows}
}

// PartitionBy splits the dataset by the values of one column. Rows whose
// partition value is nil are dropped, so the partitions are a disjoint
// cover of the non-null rows.
func (d *Dataset) PartitionBy(column string) map[string]*Dataset {
	groups := make(map[string][]Row)
	var order []string
	for _, row := range d.rows {
		v := row[column]
		if v == nil {
			continue
		}
		key := fmt.Sprint(v)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	partitions := make(map[string]*Dataset, len(order))
	for _, key := range order {
		partitions[key] = &Dataset{columns: d.Columns(), rows: groups[key]}
	}
	return partitions
}
