package fintraffic

import (
	"fmt"
	"os"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

type rawRow struct {
	StationID       int32   `parquet:"name=id, type=INT32"`
	Year            int32   `parquet:"name=year, type=INT32"`
	Day             int32   `parquet:"name=day, type=INT32"`
	Hour            int32   `parquet:"name=hour, type=INT32"`
	Minute          int32   `parquet:"name=minute, type=INT32"`
	Second          int32   `parquet:"name=second, type=INT32"`
	HundredthSecond int32   `parquet:"name=hund_second, type=INT32"`
	Length          float64 `parquet:"name=length, type=DOUBLE"`
	Lane            int32   `parquet:"name=lane, type=INT32"`
	Direction       int32   `parquet:"name=direction, type=INT32"`
	Vehicle         int32   `parquet:"name=vehicle, type=INT32"`
	Speed           float64 `parquet:"name=speed, type=DOUBLE"`
	Faulty          int32   `parquet:"name=faulty, type=INT32"`
	TotalTime       int32   `parquet:"name=total_time, type=INT32"`
	TimeInterval    int32   `parquet:"name=time_interval, type=INT32"`
	QueueStart      int32   `parquet:"name=queue_start, type=INT32"`
}

func toRow(r models.RawRecord) rawRow {
	return rawRow{
		StationID:       int32(r.StationID),
		Year:            int32(r.Year),
		Day:             int32(r.Day),
		Hour:            int32(r.Hour),
		Minute:          int32(r.Minute),
		Second:          int32(r.Second),
		HundredthSecond: int32(r.HundredthSecond),
		Length:          r.Length,
		Lane:            int32(r.Lane),
		Direction:       int32(r.Direction),
		Vehicle:         int32(r.Vehicle),
		Speed:           r.Speed,
		Faulty:          int32(r.Faulty),
		TotalTime:       int32(r.TotalTime),
		TimeInterval:    int32(r.TimeInterval),
		QueueStart:      int32(r.QueueStart),
	}
}

func (r rawRow) record() models.RawRecord {
	return models.RawRecord{
		StationID:       int(r.StationID),
		Year:            int(r.Year),
		Day:             int(r.Day),
		Hour:            int(r.Hour),
		Minute:          int(r.Minute),
		Second:          int(r.Second),
		HundredthSecond: int(r.HundredthSecond),
		Length:          r.Length,
		Lane:            int(r.Lane),
		Direction:       int(r.Direction),
		Vehicle:         int(r.Vehicle),
		Speed:           r.Speed,
		Faulty:          int(r.Faulty),
		TotalTime:       int(r.TotalTime),
		TimeInterval:    int(r.TimeInterval),
		QueueStart:      int(r.QueueStart),
	}
}

// WriteCache stores raw records in a snappy compressed parquet file. The
// file is written next to path and renamed into place once complete.
func WriteCache(path string, records []models.RawRecord) error {
	tmp := path + ".tmp"
	if err := writeParquet(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move cache file into place: %w", err)
	}
	return nil
}

func writeParquet(path string, records []models.RawRecord) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create local file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(rawRow), 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("failed to create ParquetWriter: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range records {
		if err := pw.Write(toRow(r)); err != nil {
			fw.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return fw.Close()
}

// ReadCache loads raw records written by WriteCache.
func ReadCache(path string) (_ []models.RawRecord, err error) {
	// the parquet reader panics on some malformed footers
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to read parquet file %s: %v", path, r)
		}
	}()

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local file: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(rawRow), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create ParquetReader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]rawRow, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("failed to read rows: %w", err)
		}
	}

	records := make([]models.RawRecord, len(rows))
	for i, row := range rows {
		records[i] = row.record()
	}
	return records, nil
}
