package fintraffic

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chrisdamba/roadtraffic/internal/models"
)

// ParseReport reads a ';' separated raw report without header.
func ParseReport(r io.Reader) ([]models.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var records []models.RawRecord
	line := 0
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		if len(fields) != len(models.ColumnNamesFintraffic) {
			return nil, fmt.Errorf("line %d: expected %d columns, got %d", line, len(models.ColumnNamesFintraffic), len(fields))
		}
		rec, err := parseFields(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseFields(f []string) (models.RawRecord, error) {
	var rec models.RawRecord
	ints := []*int{
		&rec.StationID, &rec.Year, &rec.Day, &rec.Hour, &rec.Minute, &rec.Second,
		&rec.HundredthSecond, nil, &rec.Lane, &rec.Direction, &rec.Vehicle, nil,
		&rec.Faulty, &rec.TotalTime, &rec.TimeInterval, &rec.QueueStart,
	}
	for i, dst := range ints {
		value := strings.TrimSpace(f[i])
		if dst == nil {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return rec, fmt.Errorf("column %s: %w", models.ColumnNamesFintraffic[i], err)
		}
		*dst = n
	}

	var err error
	if rec.Length, err = strconv.ParseFloat(strings.TrimSpace(f[7]), 64); err != nil {
		return rec, fmt.Errorf("column length: %w", err)
	}
	if rec.Speed, err = strconv.ParseFloat(strings.TrimSpace(f[11]), 64); err != nil {
		return rec, fmt.Errorf("column speed: %w", err)
	}
	return rec, nil
}
