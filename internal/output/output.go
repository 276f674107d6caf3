// Package output writes pipeline results as JSON messages to a
// destination: the console, partitioned local files, Kafka or a database.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chrisdamba/roadtraffic/internal/cloudwriter"
	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/chrisdamba/roadtraffic/internal/repositories/postgres"
	"github.com/chrisdamba/roadtraffic/internal/repositories/sqlite"
)

type Destination interface {
	WriteMessage(topic string, msg []byte) error
	Close() error
}

// New opens the destination selected in cfg.
func New(ctx context.Context, cfg *models.Config) (Destination, error) {
	out := cfg.Output
	switch out.Destination {
	case "", "console":
		return NewConsoleOutput(os.Stdout), nil
	case "csv":
		return NewCSVOutput(out.Path, out.Folder), nil
	case "json":
		return NewJSONOutput(out.Path, out.Folder), nil
	case "parquet":
		var factory cloudwriter.CloudWriterFactory
		if out.Storage == "cloud" {
			switch out.CloudStorage.Provider {
			case "s3":
				f, err := cloudwriter.NewS3WriterFactory(ctx, out.CloudStorage.Region)
				if err != nil {
					return nil, fmt.Errorf("failed to create cloud writer factory: %w", err)
				}
				factory = f
			default:
				return nil, fmt.Errorf("unsupported cloud storage provider: %q", out.CloudStorage.Provider)
			}
		}
		return NewParquetOutput(ctx, out.Path, out.Folder, factory, out.CloudStorage.BucketName), nil
	case "kafka":
		return NewKafkaOutput(out.KafkaBrokerList)
	case "postgres":
		pool, err := postgres.NewPool(ctx, out.Database)
		if err != nil {
			return nil, err
		}
		return NewDatabaseOutput(ctx,
			postgres.NewAggregatedRepository(pool),
			postgres.NewModelRepository(pool),
			func() error { pool.Close(); return nil },
		), nil
	case "sqlite":
		db, err := sqlite.Open(out.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewDatabaseOutput(ctx,
			sqlite.NewAggregatedRepository(db),
			sqlite.NewModelRepository(db),
			db.Close,
		), nil
	}
	return nil, fmt.Errorf("unsupported output destination: %q", out.Destination)
}

type ConsoleOutput struct {
	w io.Writer
}

func NewConsoleOutput(w io.Writer) *ConsoleOutput {
	return &ConsoleOutput{w: w}
}

func (c *ConsoleOutput) WriteMessage(topic string, msg []byte) error {
	if _, err := fmt.Fprintf(c.w, "[%s] %s\n", topic, msg); err != nil {
		return fmt.Errorf("failed to write to console: %w", err)
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }

// partition decodes a message and returns it with its
// year=/month=/day=/hour= directory, taken from the "timestamp" field.
// Numbers stay json.Number so they print as written.
func partition(msg []byte) (map[string]any, string, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	var event map[string]any
	if err := dec.Decode(&event); err != nil {
		return nil, "", err
	}
	n, ok := event["timestamp"].(json.Number)
	if !ok {
		return nil, "", fmt.Errorf("invalid timestamp")
	}
	ts, err := n.Float64()
	if err != nil {
		return nil, "", fmt.Errorf("invalid timestamp: %w", err)
	}
	t := time.Unix(int64(ts), 0).UTC()
	year, month, day := t.Date()
	return event, fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d", year, month, day, t.Hour()), nil
}

func partitionDir(basePath, folder, topic, part string) (string, error) {
	dir := filepath.Join(basePath, folder, topic, filepath.FromSlash(part))
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}
	return dir, nil
}
