package capture

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// SaleaeCSVSource reads a Saleae Logic CSV export of an Async Serial
// analyzer and replays its bytes with the recorded capture timestamps.
//
// Two layouts are recognized:
//
//	name,type,start_time,duration,data   (Logic 2 analyzer export)
//	Time [s],Value                       (plain two-column export)
//
// Times are seconds from capture start; values are hex (0xC0) or decimal.
type SaleaeCSVSource struct {
	r    *csv.Reader
	base time.Time

	timeCol int
	dataCol int
	typeCol int // -1 when the layout has no type column
	line    int

	// pending holds the record consumed during layout detection when the
	// file turns out to have no header row.
	pending []string
}

// NewSaleaeCSVSource prepares a source over r. The capture-relative times
// are anchored at base. The header row, if present, selects the layout.
func NewSaleaeCSVSource(r io.Reader, base time.Time) (*SaleaeCSVSource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	s := &SaleaeCSVSource{
		r:       cr,
		base:    base,
		timeCol: 0,
		dataCol: 1,
		typeCol: -1,
	}

	first, err := cr.Read()
	if err == io.EOF {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	s.line++

	// A numeric first field means there is no header row; the first record
	// is data and the two-column layout applies.
	if _, ferr := strconv.ParseFloat(strings.TrimSpace(first[0]), 64); ferr == nil {
		s.pending = first
		return s, nil
	}

	for i, name := range first {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "start_time", "time [s]", "time":
			s.timeCol = i
		case "data", "value":
			s.dataCol = i
		case "type":
			s.typeCol = i
		}
	}
	return s, nil
}

// Next returns the next captured byte.
func (s *SaleaeCSVSource) Next() (Byte, error) {
	for {
		record, err := s.nextRecord()
		if err != nil {
			return Byte{}, err
		}

		if s.typeCol >= 0 && s.typeCol < len(record) {
			// The analyzer export interleaves control rows; only data
			// rows carry bytes.
			if strings.TrimSpace(record[s.typeCol]) != "data" {
				continue
			}
		}

		if s.timeCol >= len(record) || s.dataCol >= len(record) {
			return Byte{}, fmt.Errorf("CSV line %d: too few columns", s.line)
		}

		sec, err := strconv.ParseFloat(strings.TrimSpace(record[s.timeCol]), 64)
		if err != nil {
			return Byte{}, fmt.Errorf("CSV line %d: bad timestamp %q", s.line, record[s.timeCol])
		}

		val, err := strconv.ParseUint(strings.TrimSpace(record[s.dataCol]), 0, 8)
		if err != nil {
			return Byte{}, fmt.Errorf("CSV line %d: bad byte value %q", s.line, record[s.dataCol])
		}

		return Byte{
			Value: byte(val),
			Time:  s.base.Add(time.Duration(sec * float64(time.Second))),
		}, nil
	}
}

func (s *SaleaeCSVSource) nextRecord() ([]string, error) {
	if s.pending != nil {
		record := s.pending
		s.pending = nil
		return record, nil
	}
	record, err := s.r.Read()
	if err != nil {
		return nil, err
	}
	s.line++
	return record, nil
}
