package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"sync"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/chrisdamba/roadtraffic/internal/cloudwriter"
	"github.com/chrisdamba/roadtraffic/internal/models"
)

type aggregatedRow struct {
	Timestamp      int64   `json:"timestamp" parquet:"name=timestamp, type=INT64"`
	StationID      int32   `json:"id" parquet:"name=id, type=INT32"`
	Date           string  `json:"date" parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Bucket         int32   `json:"aggregation" parquet:"name=aggregation, type=INT32"`
	Direction      int32   `json:"direction" parquet:"name=direction, type=INT32"`
	Lane           int32   `json:"lane" parquet:"name=lane, type=INT32"`
	SpaceMeanSpeed float64 `json:"smspeed" parquet:"name=smspeed, type=DOUBLE"`
	Count          int32   `json:"count" parquet:"name=count, type=INT32"`
	CarCount       int32   `json:"car_count" parquet:"name=car_count, type=INT32"`
	BusCount       int32   `json:"bus_count" parquet:"name=bus_count, type=INT32"`
	TruckCount     int32   `json:"truck_count" parquet:"name=truck_count, type=INT32"`
	Flow           float64 `json:"flow" parquet:"name=flow, type=DOUBLE"`
	Cars           float64 `json:"cars" parquet:"name=cars, type=DOUBLE"`
	Buses          float64 `json:"buses" parquet:"name=buses, type=DOUBLE"`
	Trucks         float64 `json:"trucks" parquet:"name=trucks, type=DOUBLE"`
	Density        float64 `json:"density" parquet:"name=density, type=DOUBLE"`
	Seconds        float64 `json:"seconds" parquet:"name=seconds, type=DOUBLE"`
	Time           string  `json:"time" parquet:"name=time, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type baggedRow struct {
	Timestamp       int64   `json:"timestamp" parquet:"name=timestamp, type=INT64"`
	RunID           string  `json:"run_id" parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	StationID       int32   `json:"id" parquet:"name=id, type=INT32"`
	Direction       int32   `json:"direction" parquet:"name=direction, type=INT32"`
	DensityBin      int32   `json:"grid_density" parquet:"name=grid_density, type=INT32"`
	FlowBin         int32   `json:"grid_flow" parquet:"name=grid_flow, type=INT32"`
	Size            int32   `json:"bag_size" parquet:"name=bag_size, type=INT32"`
	SumFlow         float64 `json:"sum_flow" parquet:"name=sum_flow, type=DOUBLE"`
	SumDensity      float64 `json:"sum_density" parquet:"name=sum_density, type=DOUBLE"`
	CentroidFlow    float64 `json:"centroid_flow" parquet:"name=centroid_flow, type=DOUBLE"`
	CentroidDensity float64 `json:"centroid_density" parquet:"name=centroid_density, type=DOUBLE"`
	Weight          float64 `json:"weight" parquet:"name=weight, type=DOUBLE"`
}

type rollingRow struct {
	Timestamp      int64   `json:"timestamp" parquet:"name=timestamp, type=INT64"`
	Window         string  `json:"window" parquet:"name=window, type=BYTE_ARRAY, convertedtype=UTF8"`
	StationID      int32   `json:"id" parquet:"name=id, type=INT32"`
	Date           string  `json:"date" parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Direction      int32   `json:"direction" parquet:"name=direction, type=INT32"`
	Lane           int32   `json:"lane" parquet:"name=lane, type=INT32"`
	Start          int32   `json:"start" parquet:"name=start, type=INT32"`
	End            int32   `json:"end" parquet:"name=end, type=INT32"`
	Count          int32   `json:"count" parquet:"name=count, type=INT32"`
	SpaceMeanSpeed float64 `json:"smspeed" parquet:"name=smspeed, type=DOUBLE"`
	Flow           float64 `json:"flow" parquet:"name=flow, type=DOUBLE"`
	Density        float64 `json:"density" parquet:"name=density, type=DOUBLE"`
}

type modelRow struct {
	Timestamp    int64   `json:"timestamp" parquet:"name=timestamp, type=INT64"`
	ID           string  `json:"id" parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	RunID        string  `json:"run_id" parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	StationID    int32   `json:"station_id" parquet:"name=station_id, type=INT32"`
	DataSet      string  `json:"data_set" parquet:"name=data_set, type=BYTE_ARRAY, convertedtype=UTF8"`
	ModelType    string  `json:"model_type" parquet:"name=model_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quantile     string  `json:"quantile" parquet:"name=quantile, type=BYTE_ARRAY, convertedtype=UTF8"`
	Penalty      string  `json:"penalty" parquet:"name=penalty, type=BYTE_ARRAY, convertedtype=UTF8"`
	Eta          float64 `json:"eta" parquet:"name=eta, type=DOUBLE"`
	Context      string  `json:"context" parquet:"name=context, type=BYTE_ARRAY, convertedtype=UTF8"`
	Solver       string  `json:"solver" parquet:"name=solver, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status       string  `json:"status" parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Objective    float64 `json:"objective" parquet:"name=objective, type=DOUBLE"`
	Observations int32   `json:"observations" parquet:"name=observations, type=INT32"`
	Segments     int32   `json:"segments" parquet:"name=segments, type=INT32"`
	Lambda       float64 `json:"lambda" parquet:"name=lambda, type=DOUBLE"`
	ElapsedMS    int64   `json:"elapsed_ms" parquet:"name=elapsed_ms, type=INT64"`
	CreatedAt    string  `json:"created_at" parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type estimateRow struct {
	Timestamp       int64   `json:"timestamp" parquet:"name=timestamp, type=INT64"`
	RunID           string  `json:"run_id" parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ModelID         string  `json:"model_id" parquet:"name=model_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	StationID       int32   `json:"station_id" parquet:"name=station_id, type=INT32"`
	Quantile        string  `json:"quantile" parquet:"name=quantile, type=BYTE_ARRAY, convertedtype=UTF8"`
	Penalty         string  `json:"penalty" parquet:"name=penalty, type=BYTE_ARRAY, convertedtype=UTF8"`
	Eta             float64 `json:"eta" parquet:"name=eta, type=DOUBLE"`
	Context         string  `json:"context" parquet:"name=context, type=BYTE_ARRAY, convertedtype=UTF8"`
	Density         float64 `json:"density" parquet:"name=density, type=DOUBLE"`
	Flow            float64 `json:"flow" parquet:"name=flow, type=DOUBLE"`
	FlowEstimate    float64 `json:"flow_estimate" parquet:"name=flow_estimate, type=DOUBLE"`
	Speed           float64 `json:"speed" parquet:"name=speed, type=DOUBLE"`
	SpeedEstimate   float64 `json:"speed_estimate" parquet:"name=speed_estimate, type=DOUBLE"`
	ContextValue    float64 `json:"context_value" parquet:"name=context_value, type=DOUBLE"`
	ContextEstimate float64 `json:"context_estimate" parquet:"name=context_estimate, type=DOUBLE"`
}

// rowCodec pairs the parquet schema of a topic with its message decoder.
type rowCodec struct {
	schema any
	decode func(msg []byte) (any, error)
}

func decodeAs[T any](msg []byte) (any, error) {
	var row T
	err := json.Unmarshal(msg, &row)
	return row, err
}

var parquetRows = map[string]rowCodec{
	models.TopicAggregated:   {new(aggregatedRow), decodeAs[aggregatedRow]},
	models.TopicBagged:       {new(baggedRow), decodeAs[baggedRow]},
	models.TopicRolling:      {new(rollingRow), decodeAs[rollingRow]},
	models.TopicEstimates:    {new(modelRow), decodeAs[modelRow]},
	models.TopicEstimateRows: {new(estimateRow), decodeAs[estimateRow]},
}

type parquetFile struct {
	mu sync.Mutex
	fw source.ParquetFile
	pw *writer.ParquetWriter
}

// ParquetOutput writes one snappy compressed data.parquet per topic and
// hour partition, locally or to object storage when a factory is set.
type ParquetOutput struct {
	ctx                context.Context
	basePath           string
	folder             string
	mu                 sync.Mutex
	files              map[string]*parquetFile
	cloudWriterFactory cloudwriter.CloudWriterFactory
	cloudBucketName    string
}

func NewParquetOutput(ctx context.Context, basePath, folder string, factory cloudwriter.CloudWriterFactory, bucket string) *ParquetOutput {
	return &ParquetOutput{
		ctx:                ctx,
		basePath:           basePath,
		folder:             folder,
		files:              make(map[string]*parquetFile),
		cloudWriterFactory: factory,
		cloudBucketName:    bucket,
	}
}

func (p *ParquetOutput) WriteMessage(topic string, msg []byte) error {
	codec, ok := parquetRows[topic]
	if !ok {
		return fmt.Errorf("no parquet schema for topic %q", topic)
	}
	_, part, err := partition(msg)
	if err != nil {
		return err
	}
	row, err := codec.decode(msg)
	if err != nil {
		return fmt.Errorf("failed to decode %s message: %w", topic, err)
	}

	key := topic + "/" + part
	p.mu.Lock()
	f, ok := p.files[key]
	if !ok {
		f, err = p.createFile(topic, part, codec.schema)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("failed to create new writer: %w", err)
		}
		p.files[key] = f
	}
	p.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pw.Write(row); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (p *ParquetOutput) createFile(topic, part string, schema any) (*parquetFile, error) {
	var fw source.ParquetFile
	if p.cloudWriterFactory != nil {
		objectPath := path.Join(p.folder, topic, part, "data.parquet")
		cw, err := p.cloudWriterFactory.NewWriter(p.ctx, p.cloudBucketName, objectPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create cloud file writer: %w", err)
		}
		fw = NewCloudParquetFile(cw)
	} else {
		dir, err := partitionDir(p.basePath, p.folder, topic, part)
		if err != nil {
			return nil, err
		}
		fw, err = local.NewLocalFileWriter(filepath.Join(dir, "data.parquet"))
		if err != nil {
			return nil, fmt.Errorf("failed to create local file writer: %w", err)
		}
	}

	pw, err := writer.NewParquetWriter(fw, schema, 4)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to create ParquetWriter: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	return &parquetFile{fw: fw, pw: pw}, nil
}

func (p *ParquetOutput) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for key, f := range p.files {
		f.mu.Lock()
		if err := f.pw.WriteStop(); err != nil {
			log.Printf("Error closing writer for key %s: %v", key, err)
			errs = append(errs, err)
		}
		if err := f.fw.Close(); err != nil {
			log.Printf("Error closing file for key %s: %v", key, err)
			errs = append(errs, err)
		}
		f.mu.Unlock()
	}
	p.files = make(map[string]*parquetFile)
	return errors.Join(errs...)
}

// CloudParquetFile adapts a CloudWriter to the write-only subset of
// source.ParquetFile the parquet writer uses.
type CloudParquetFile struct {
	cloudWriter cloudwriter.CloudWriter
	offset      int64
}

func NewCloudParquetFile(cw cloudwriter.CloudWriter) *CloudParquetFile {
	return &CloudParquetFile{cloudWriter: cw}
}

func (c *CloudParquetFile) Open(string) (source.ParquetFile, error)   { return c, nil }
func (c *CloudParquetFile) Create(string) (source.ParquetFile, error) { return c, nil }

func (c *CloudParquetFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		c.offset = offset
	case io.SeekCurrent:
		c.offset += offset
	default:
		return 0, fmt.Errorf("seek from end not supported for cloud storage")
	}
	return c.offset, nil
}

func (c *CloudParquetFile) Read([]byte) (int, error) {
	return 0, fmt.Errorf("read not supported for cloud storage")
}

func (c *CloudParquetFile) Write(b []byte) (int, error) {
	n, err := c.cloudWriter.Write(b)
	c.offset += int64(n)
	return n, err
}

func (c *CloudParquetFile) Close() error {
	return c.cloudWriter.Close()
}
