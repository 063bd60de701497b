package reading

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors are the structural markers of a consumption line. They belong
// to the page adapter; the parser only applies them.
type Selectors struct {
	Line  string `yaml:"line"`
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
	Unit  string `yaml:"unit"`
}

// DefaultSelectors matches the Netatmo energy dashboard markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Line:  "app-consumption-line",
		Name:  ".consumption-item-name p",
		Value: ".consumption-item-value app-text p",
		Unit:  ".consumption-item-value app-text[unit] p",
	}
}

func (s *Selectors) defaults() {
	d := DefaultSelectors()
	if s.Line == "" {
		s.Line = d.Line
	}
	if s.Name == "" {
		s.Name = d.Name
	}
	if s.Value == "" {
		s.Value = d.Value
	}
	if s.Unit == "" {
		s.Unit = d.Unit
	}
}

// Parser converts a DOM tree into readings. It is stateless and safe for
// concurrent use.
type Parser struct {
	sel Selectors
}

// NewParser creates a Parser. Empty selector fields take the defaults.
func NewParser(sel Selectors) *Parser {
	sel.defaults()
	return &Parser{sel: sel}
}

// Selectors returns the markers in use.
func (p *Parser) Selectors() Selectors { return p.sel }

// ParseHTML parses raw HTML and returns its readings.
func (p *Parser) ParseHTML(raw []byte) ([]Reading, error) {
	return p.ParseReader(bytes.NewReader(raw))
}

// ParseReader parses an HTML stream and returns its readings.
func (p *Parser) ParseReader(r io.Reader) ([]Reading, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading: parse HTML: %w", err)
	}
	return p.Parse(doc.Selection), nil
}

// Parse scans root for consumption lines in document order. Lines without
// a name or a value node are skipped; malformed numbers are kept as
// Unparseable. Parse never fails.
func (p *Parser) Parse(root *goquery.Selection) []Reading {
	readings := []Reading{}
	root.Find(p.sel.Line).Each(func(_ int, line *goquery.Selection) {
		if r, ok := p.readLine(line); ok {
			readings = append(readings, r)
		}
	})
	return readings
}

// FindNamedHTML is FindNamed over raw HTML.
func (p *Parser) FindNamedHTML(raw []byte, target string) (Reading, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return Reading{}, false, fmt.Errorf("reading: parse HTML: %w", err)
	}
	r, ok := p.FindNamed(doc.Selection, target)
	return r, ok, nil
}

// FindNamed returns the first line whose trimmed name equals target
// (case-sensitive) and which has a value node.
func (p *Parser) FindNamed(root *goquery.Selection, target string) (Reading, bool) {
	target = strings.TrimSpace(target)
	var found Reading
	var ok bool
	root.Find(p.sel.Line).EachWithBreak(func(_ int, line *goquery.Selection) bool {
		name := line.Find(p.sel.Name).First()
		if name.Length() == 0 || strings.TrimSpace(name.Text()) != target {
			return true
		}
		found, ok = p.readLine(line)
		return !ok
	})
	return found, ok
}

func (p *Parser) readLine(line *goquery.Selection) (Reading, bool) {
	name := line.Find(p.sel.Name).First()
	if name.Length() == 0 {
		return Reading{}, false
	}
	value := line.Find(p.sel.Value).First()
	if value.Length() == 0 {
		return Reading{}, false
	}

	unit := DefaultUnit
	if u := line.Find(p.sel.Unit).First(); u.Length() > 0 {
		unit = strings.TrimSpace(u.Text())
	}

	return Reading{
		Name:  strings.TrimSpace(name.Text()),
		Value: ParseValue(value.Text()),
		Unit:  unit,
	}, true
}

var leadingFloat = regexp.MustCompile(`^[+-]?(Infinity|(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?)`)

// ParseValue reads the longest numeric prefix of text, ignoring leading
// whitespace: "12.5 kWh" is 12.5, "1,5" is 1, "abc" is Unparseable.
func ParseValue(text string) Value {
	m := leadingFloat.FindString(strings.TrimSpace(text))
	if m == "" {
		return Unparseable()
	}
	switch m {
	case "Infinity", "+Infinity":
		return Numeric(math.Inf(1))
	case "-Infinity":
		return Numeric(math.Inf(-1))
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		// Out-of-range exponents still parse to ±Inf or 0.
		if errors.Is(err, strconv.ErrRange) {
			return Numeric(f)
		}
		return Unparseable()
	}
	return Numeric(f)
}
