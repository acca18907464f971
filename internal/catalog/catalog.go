// Package catalog loads the shop's static price list once at startup and
// renders it as the text block embedded in every system prompt.
package catalog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

const (
	PlaceholderUnavailable = "Catálogo no disponible por el momento."
	PlaceholderEmpty       = "Catálogo vacío."
)

var (
	nameColumns  = []string{"modelo", "model"}
	priceColumns = []string{"precio", "price"}
)

var (
	ErrUnsupportedFormat = errors.New("unsupported catalog format")
	ErrMissingColumns    = errors.New("expected Modelo/Precio columns not found")
)

// Entry is one catalog row. Price is already formatted for display.
type Entry struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

func (e Entry) String() string {
	return e.Name + ": $" + e.Price
}

// Catalog is immutable after Load. Text is always usable: when the source is
// missing or malformed it holds one of the placeholders and Err says why.
type Catalog struct {
	Source  string
	Entries []Entry
	Text    string
	Err     error
}

// Available reports whether the catalog was read from a well-formed source.
func (c *Catalog) Available() bool {
	return c.Err == nil
}

type Config struct {
	Path   string
	Sheet  string // spreadsheet sources only; default: first sheet
	Logger *slog.Logger
}

// Load reads the catalog source. It never fails: errors are logged and
// degrade the catalog to a placeholder text.
func Load(cfg Config) *Catalog {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Catalog{Source: cfg.Path}
	entries, err := readEntries(cfg.Path, cfg.Sheet)
	if err != nil {
		if errors.Is(err, ErrMissingColumns) {
			logger.Warn("catalog columns not found", "path", cfg.Path, "err", err)
		} else {
			logger.Error("catalog load failed", "path", cfg.Path, "err", err)
		}
		c.Err = err
		c.Text = PlaceholderUnavailable
		return c
	}

	c.Entries = entries
	c.Text = Render(entries)
	logger.Info("catalog loaded", "path", cfg.Path, "items", len(entries))
	return c
}

// Render joins entries as "<name>: $<price>" lines.
func Render(entries []Entry) string {
	if len(entries) == 0 {
		return PlaceholderEmpty
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

// FormatPrice renders numeric values as integers (truncating) and passes
// anything else through trimmed.
func FormatPrice(raw string) string {
	s := strings.TrimSpace(raw)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return s
	}
	return strconv.FormatInt(int64(f), 10)
}

func readEntries(path, sheet string) ([]Entry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is empty")
	}

	var (
		t   table
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		t, err = readSpreadsheet(path, sheet)
	case ".csv":
		t, err = readCSV(path)
	case ".yaml", ".yml":
		t, err = readYAML(path)
	case ".json":
		t, err = readJSON(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return t.entries()
}

// table is the format-independent view of a catalog source: lowercased,
// trimmed headers and the raw cell values of each row.
type table struct {
	header []string
	rows   [][]string
}

func (t table) column(names []string) int {
	for _, want := range names {
		for i, h := range t.header {
			if h == want {
				return i
			}
		}
	}
	return -1
}

func (t table) entries() ([]Entry, error) {
	nameIdx := t.column(nameColumns)
	priceIdx := t.column(priceColumns)
	if nameIdx < 0 || priceIdx < 0 {
		return nil, fmt.Errorf("%w (header: %v)", ErrMissingColumns, t.header)
	}

	cell := func(row []string, i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	entries := make([]Entry, 0, len(t.rows))
	for _, row := range t.rows {
		if blankRow(row) {
			continue
		}
		entries = append(entries, Entry{
			Name:  strings.TrimSpace(cell(row, nameIdx)),
			Price: FormatPrice(cell(row, priceIdx)),
		})
	}
	return entries, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}
	return out
}

func readSpreadsheet(path, sheet string) (table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return table{}, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	// Raw values: number formats would round or add thousands separators.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return table{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return table{}, fmt.Errorf("%w (sheet %q is empty)", ErrMissingColumns, sheet)
	}
	return table{header: normalizeHeader(rows[0]), rows: rows[1:]}, nil
}

func readCSV(path string) (table, error) {
	f, err := os.Open(path)
	if err != nil {
		return table{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return table{}, fmt.Errorf("%w (empty file)", ErrMissingColumns)
	}
	if err != nil {
		return table{}, fmt.Errorf("read csv header: %w", err)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return table{}, fmt.Errorf("read csv: %w", err)
	}
	return table{header: normalizeHeader(header), rows: rows}, nil
}

// readYAML accepts either a top-level list of rows or {items: [...]}.
func readYAML(path string) (table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return table{}, err
	}

	var rows []map[string]any
	if err := yaml.Unmarshal(data, &rows); err != nil {
		var doc struct {
			Items []map[string]any `yaml:"items"`
		}
		if err2 := yaml.Unmarshal(data, &doc); err2 != nil {
			return table{}, fmt.Errorf("parse yaml: %w", err)
		}
		rows = doc.Items
	}
	return tableFromMaps(rows), nil
}

func readJSON(path string) (table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return table{}, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return table{}, fmt.Errorf("parse json: %w", err)
	}
	return tableFromMaps(rows), nil
}

// tableFromMaps builds a table whose header is the union of keys in first-seen
// order. Keys are matched case-insensitively.
func tableFromMaps(records []map[string]any) table {
	var t table
	index := make(map[string]int)
	for _, rec := range records {
		for k := range rec {
			key := strings.ToLower(strings.TrimSpace(k))
			if _, ok := index[key]; !ok {
				index[key] = len(t.header)
				t.header = append(t.header, key)
			}
		}
	}
	for _, rec := range records {
		row := make([]string, len(t.header))
		for k, v := range rec {
			if v == nil {
				continue
			}
			row[index[strings.ToLower(strings.TrimSpace(k))]] = fmt.Sprint(v)
		}
		t.rows = append(t.rows, row)
	}
	return t
}
