package dataset

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// MaxSampleRows caps the number of data rows kept in memory.
const MaxSampleRows = 100

// Options controls parsing behavior.
type Options struct {
	// SampleRows limits the sample size; 0 or values above MaxSampleRows
	// mean MaxSampleRows.
	SampleRows int
}

func (o Options) sampleRows() int {
	if o.SampleRows <= 0 || o.SampleRows > MaxSampleRows {
		return MaxSampleRows
	}
	return o.SampleRows
}

// ParseResult is the outcome of parsing CSV text.
type ParseResult struct {
	Headers  []string
	Sample   []Row
	RowCount int
}

// Parse reads CSV text and returns its header, a bounded sample of typed
// rows and the exact count of non-blank data lines. Lines past the sample
// are counted but never tokenized.
func Parse(r io.Reader, opt Options) (*ParseResult, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, utf8BOM) {
		_, _ = br.Discard(3)
	}
	lr := &lineReader{r: br}
	limit := opt.sampleRows()

	var header string
	for {
		line, blank, err := lr.next(true)
		if errors.Is(err, io.EOF) {
			return nil, &FormatError{Reason: "the file needs a header row and at least one data row"}
		}
		if err != nil {
			return nil, &IOError{Err: err}
		}
		if !blank {
			header = line
			break
		}
	}

	res := &ParseResult{}
	for _, h := range splitFields(header) {
		res.Headers = append(res.Headers, cleanField(h))
	}

	for {
		keep := res.RowCount < limit
		line, blank, err := lr.next(keep)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &IOError{Err: err}
		}
		if blank {
			continue
		}
		res.RowCount++
		if keep {
			res.Sample = append(res.Sample, buildRow(res.Headers, splitFields(line)))
		}
	}
	if res.RowCount == 0 {
		return nil, &FormatError{Reason: "the file needs a header row and at least one data row"}
	}
	return res, nil
}

func buildRow(headers, fields []string) Row {
	row := NewRow(len(headers))
	for i, h := range headers {
		var raw string
		if i < len(fields) {
			raw = fields[i]
		}
		row.Set(h, coerce(cleanField(raw)))
	}
	return row
}

// lineReader yields lines split on "\n" or "\r\n" without holding more than
// one line in memory.
type lineReader struct {
	r   *bufio.Reader
	buf []byte
}

// next returns the next line and whether it is blank. With keep false the
// content is discarded and only blankness is tracked.
func (lr *lineReader) next(keep bool) (string, bool, error) {
	lr.buf = lr.buf[:0]
	blank := true
	read := false
	for {
		chunk, err := lr.r.ReadSlice('\n')
		if len(chunk) > 0 {
			read = true
			if blank && len(bytes.TrimSpace(chunk)) > 0 {
				blank = false
			}
			if keep {
				lr.buf = append(lr.buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if !read {
				return "", true, io.EOF
			}
			break
		}
		if err != nil {
			return "", true, err
		}
		break
	}
	if !keep {
		return "", blank, nil
	}
	line := lr.buf
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
	}
	return string(line), blank, nil
}

// splitFields tokenizes one line. A double quote toggles quoting, a doubled
// quote inside quotes yields one literal quote and commas separate fields
// only outside quotes.
func splitFields(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				cur.WriteByte('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case c == ',' && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}

// cleanField trims whitespace then drops one leading and one trailing
// quote character (' or ").
func cleanField(s string) string {
	s = strings.TrimSpace(s)
	if s != "" && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if n := len(s); n > 0 && (s[n-1] == '"' || s[n-1] == '\'') {
		s = s[:n-1]
	}
	return s
}

func coerce(s string) Value {
	if s == "" {
		return String(s)
	}
	if f, ok := parseNumber(s); ok {
		return Number(f)
	}
	return String(s)
}

var decimalRe = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// parseNumber accepts the numeric literal grammar of JavaScript's Number
// conversion: signed decimals with optional fraction and exponent,
// Infinity, and unsigned 0x/0o/0b integers. NaN is not a number here.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0, false
	case "Infinity", "+Infinity":
		return math.Inf(1), true
	case "-Infinity":
		return math.Inf(-1), true
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			digits := s[2:]
			if strings.ContainsAny(digits, "_+-") {
				return 0, false
			}
			n, ok := new(big.Int).SetString(digits, base)
			if !ok {
				return 0, false
			}
			f, _ := new(big.Float).SetInt(n).Float64()
			return f, true
		}
	}
	if !decimalRe.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) && errors.Is(ne.Err, strconv.ErrRange) {
			// overflow yields ±Inf, underflow yields ±0
			return f, true
		}
		return 0, false
	}
	return f, true
}
