package output

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type csvFile struct {
	file    *os.File
	w       *csv.Writer
	headers []string
}

// CSVOutput writes one data.csv per topic and hour partition. The header
// is the sorted key set of the first message in the file.
type CSVOutput struct {
	basePath string
	folder   string
	files    map[string]*csvFile
}

func NewCSVOutput(basePath, folder string) *CSVOutput {
	return &CSVOutput{
		basePath: basePath,
		folder:   folder,
		files:    make(map[string]*csvFile),
	}
}

func (c *CSVOutput) WriteMessage(topic string, msg []byte) error {
	event, part, err := partition(msg)
	if err != nil {
		return err
	}

	fileKey := topic + "/" + part
	f, ok := c.files[fileKey]
	if !ok {
		dir, err := partitionDir(c.basePath, c.folder, topic, part)
		if err != nil {
			return err
		}
		file, err := os.Create(filepath.Join(dir, "data.csv"))
		if err != nil {
			return err
		}
		f = &csvFile{file: file, w: csv.NewWriter(file), headers: headers(event)}
		c.files[fileKey] = f
		if err := f.w.Write(f.headers); err != nil {
			return err
		}
	}

	row := make([]string, len(f.headers))
	for i, h := range f.headers {
		if v, ok := event[h]; ok && v != nil {
			row[i] = fmt.Sprintf("%v", v)
		}
	}
	if err := f.w.Write(row); err != nil {
		return err
	}
	f.w.Flush()
	return f.w.Error()
}

func headers(event map[string]any) []string {
	keys := make([]string, 0, len(event))
	for k := range event {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *CSVOutput) Close() error {
	var errs []error
	for _, f := range c.files {
		f.w.Flush()
		errs = append(errs, f.w.Error(), f.file.Close())
	}
	return errors.Join(errs...)
}

// JSONOutput writes newline delimited JSON, one data.json per topic and
// hour partition.
type JSONOutput struct {
	basePath string
	folder   string
	files    map[string]*os.File
}

func NewJSONOutput(basePath, folder string) *JSONOutput {
	return &JSONOutput{
		basePath: basePath,
		folder:   folder,
		files:    make(map[string]*os.File),
	}
}

func (j *JSONOutput) WriteMessage(topic string, msg []byte) error {
	event, part, err := partition(msg)
	if err != nil {
		return err
	}

	fileKey := topic + "/" + part
	file, ok := j.files[fileKey]
	if !ok {
		dir, err := partitionDir(j.basePath, j.folder, topic, part)
		if err != nil {
			return err
		}
		file, err = os.Create(filepath.Join(dir, "data.json"))
		if err != nil {
			return err
		}
		j.files[fileKey] = file
	}

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = file.Write(append(line, '\n'))
	return err
}

func (j *JSONOutput) Close() error {
	var errs []error
	for _, file := range j.files {
		errs = append(errs, file.Close())
	}
	return errors.Join(errs...)
}
