package explorer

import (
	"context"
	"fmt"
	"strings"

	"github.com/PentesterFlow/ReconMapper/internal/page"
)

const (
	ariaContainers = "[role='grid'], [role='table'], [role='treegrid']"
	ariaRows       = "[role='row']"
	ariaHeaders    = "[role='columnheader']"
	ariaCells      = "[role='cell'], [role='gridcell']"
)

// CaptureTables returns native tables, then ARIA grids that hold more rows
// than the largest native table. The two kinds are separate records.
func (e *Explorer) CaptureTables(ctx context.Context, p page.Page) []Table {
	tables := []Table{}

	els, err := p.Elements(ctx, "table")
	if err != nil {
		e.failed(ctx, p, "tables", err)
	}
	maxRows := 0
	for idx, el := range els {
		t, err := nativeTable(el, idx)
		if err != nil {
			continue
		}
		if t.RowCount > maxRows {
			maxRows = t.RowCount
		}
		tables = append(tables, t)
	}

	grids, err := e.ariaGrids(ctx, p)
	if err != nil {
		e.failed(ctx, p, "tables", err)
		return tables
	}
	for _, g := range grids {
		if g.RowCount > maxRows {
			tables = append(tables, g)
		}
	}
	return tables
}

func nativeTable(el page.Element, idx int) (Table, error) {
	t := Table{
		ID:        page.AttributeOr(el, "id", fmt.Sprintf("table_%d", idx)),
		Headers:   []string{},
		SampleRow: []string{},
		Kind:      KindTable,
	}

	headers, err := el.Elements("thead th, thead td")
	if err != nil {
		return t, err
	}
	t.Headers = texts(headers)

	rows, err := el.Elements("tbody tr")
	if err != nil {
		return t, err
	}
	t.RowCount = len(rows)
	if len(rows) > 0 {
		if cells, err := rows[0].Elements("td"); err == nil {
			t.SampleRow = texts(cells)
		}
	}
	return t, nil
}

func (e *Explorer) ariaGrids(ctx context.Context, p page.Page) ([]Table, error) {
	containers, err := p.Elements(ctx, ariaContainers)
	if err != nil {
		return nil, err
	}

	var grids []Table
	if len(containers) == 0 {
		// Bare rows without a grid container form one document-wide grid.
		rows, err := p.Elements(ctx, ariaRows)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			grids = append(grids, ariaGrid("grid_0", rows))
		}
		return grids, nil
	}

	for idx, c := range containers {
		rows, err := c.Elements(ariaRows)
		if err != nil {
			continue
		}
		id := page.AttributeOr(c, "id", fmt.Sprintf("grid_%d", idx))
		grids = append(grids, ariaGrid(id, rows))
	}
	return grids, nil
}

func ariaGrid(id string, rows []page.Element) Table {
	t := Table{
		ID:        id,
		Headers:   []string{},
		SampleRow: []string{},
		Kind:      KindARIAGrid,
	}
	for _, row := range rows {
		if len(t.Headers) == 0 {
			if hs, err := row.Elements(ariaHeaders); err == nil && len(hs) > 0 {
				t.Headers = texts(hs)
				continue
			}
		}
		cells, err := row.Elements(ariaCells)
		if err != nil || len(cells) == 0 {
			continue
		}
		if t.RowCount == 0 {
			t.SampleRow = texts(cells)
		}
		t.RowCount++
	}
	return t
}

func texts(els []page.Element) []string {
	out := make([]string, 0, len(els))
	for _, el := range els {
		s, err := el.Text()
		if err != nil {
			continue
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out
}
