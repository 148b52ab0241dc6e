package schedule

import (
	"strconv"
	"strings"
	"sync"

	"ticketflow/internal/textnorm"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Row is one activity line of a ticket's schedule table.
type Row struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Period string `json:"period"`
}

var (
	idHeaders     = []string{"id", "#", "codigo", "code", "key", "chave"}
	nameHeaders   = []string{"atividade", "activity", "nome", "name", "etapa", "task", "tarefa", "descricao", "description"}
	periodHeaders = []string{"periodo", "period", "datas", "data", "dates", "date", "prazo", "quando", "cronograma", "schedule"}
)

var (
	parserOnce sync.Once
	mdParser   goldmark.Markdown
)

func markdown() goldmark.Markdown {
	parserOnce.Do(func() {
		mdParser = goldmark.New(goldmark.WithExtensions(extension.Table))
	})
	return mdParser
}

// ParseRows reads the schedule table out of a free-text field. GFM tables
// are preferred; plain pipe or tab separated lines are accepted as well.
// Rows without an id column are numbered from 1.
func ParseRows(src string) []Row {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	if cells := markdownTable(src); len(cells) > 0 {
		return rowsFromCells(cells, true)
	}
	cells := delimitedLines(src)
	if len(cells) == 0 {
		return nil
	}
	return rowsFromCells(cells, looksLikeHeader(cells[0]))
}

// FindRow looks a row up by id, falling back to its activity name.
func FindRow(rows []Row, activityID string) (Row, bool) {
	for _, r := range rows {
		if textnorm.Equal(r.ID, activityID) {
			return r, true
		}
	}
	for _, r := range rows {
		if textnorm.Equal(r.Name, activityID) {
			return r, true
		}
	}
	return Row{}, false
}

func markdownTable(src string) [][]string {
	source := []byte(src)
	doc := markdown().Parser().Parse(text.NewReader(source))

	var (
		cells   [][]string
		current []string
		found   bool
	)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n.Kind() {
		case extast.KindTable:
			if !entering {
				found = true
				return ast.WalkStop, nil
			}
		case extast.KindTableHeader, extast.KindTableRow:
			if entering {
				current = nil
			} else {
				cells = append(cells, current)
			}
		case extast.KindTableCell:
			if entering {
				current = append(current, cellText(n, source))
				return ast.WalkSkipChildren, nil
			}
		}
		return ast.WalkContinue, nil
	})
	if !found {
		return nil
	}
	return cells
}

func cellText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
			if v.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func delimitedLines(src string) [][]string {
	var out [][]string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Trim(line, "|-: \t") == "" {
			continue
		}
		var parts []string
		switch {
		case strings.Contains(line, "|"):
			parts = strings.Split(strings.Trim(line, "|"), "|")
		case strings.Contains(line, "\t"):
			parts = strings.Split(line, "\t")
		default:
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 {
			out = append(out, parts)
		}
	}
	return out
}

func looksLikeHeader(cells []string) bool {
	for _, c := range cells {
		if textnorm.In(c, nameHeaders...) || textnorm.In(c, periodHeaders...) {
			return true
		}
	}
	return false
}

// rowsFromCells maps table cells onto rows. Without a recognizable header,
// three columns read as id/name/period and two as name/period.
func rowsFromCells(cells [][]string, hasHeader bool) []Row {
	idCol, nameCol, periodCol := -1, -1, -1
	body := cells
	if hasHeader && len(cells) > 0 {
		for i, h := range cells[0] {
			switch {
			case idCol < 0 && textnorm.In(h, idHeaders...):
				idCol = i
			case nameCol < 0 && textnorm.In(h, nameHeaders...):
				nameCol = i
			case periodCol < 0 && textnorm.In(h, periodHeaders...):
				periodCol = i
			}
		}
		body = cells[1:]
	}
	if nameCol < 0 && periodCol < 0 {
		width := 0
		if len(body) > 0 {
			width = len(body[0])
		}
		switch {
		case width >= 3:
			idCol, nameCol, periodCol = 0, 1, 2
		case width == 2:
			nameCol, periodCol = 0, 1
		}
	}

	rows := make([]Row, 0, len(body))
	for i, line := range body {
		r := Row{
			ID:     at(line, idCol),
			Name:   at(line, nameCol),
			Period: at(line, periodCol),
		}
		if r.ID == "" {
			r.ID = strconv.Itoa(i + 1)
		}
		if r.Name == "" && r.Period == "" {
			continue
		}
		rows = append(rows, r)
	}
	return rows
}

func at(line []string, i int) string {
	if i < 0 || i >= len(line) {
		return ""
	}
	return line[i]
}
