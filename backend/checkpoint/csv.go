package checkpoint

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
)

// Fs is the filesystem CSV logs live on.
type Fs = afero.Fs

// CSVStore keeps the log in memory and rewrites the whole file on every
// append, so the file on disk is always a complete, readable table. The
// first column is the row index.
type CSVStore struct {
	fs      *afero.Afero
	path    string
	records []Record
}

// OpenCSV opens the log at path. An existing file is loaded and appended to.
func OpenCSV(fs afero.Fs, path string) (*CSVStore, error) {
	s := &CSVStore{fs: &afero.Afero{Fs: fs}, path: path}

	data, err := s.fs.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading log %s: %w", path, err)
	}

	records, err := decodeCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing log %s: %w", path, err)
	}
	s.records = records
	return s, nil
}

func (s *CSVStore) Path() string { return s.path }

func (s *CSVStore) Append(_ context.Context, r Record) error {
	s.records = append(s.records, r)
	return s.flush()
}

func (s *CSVStore) Load(context.Context) ([]Record, error) {
	return append([]Record(nil), s.records...), nil
}

func (s *CSVStore) Replace(_ context.Context, records []Record) error {
	s.records = append([]Record(nil), records...)
	return s.flush()
}

func (s *CSVStore) Close() error { return nil }

func (s *CSVStore) flush() error {
	var buf bytes.Buffer
	if err := encodeCSV(&buf, s.records); err != nil {
		return err
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := s.fs.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing log: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing log: %w", err)
	}
	return nil
}

func encodeCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{""}, Columns...)); err != nil {
		return err
	}
	for i, r := range records {
		row := []string{
			strconv.Itoa(i),
			r.Render,
			r.Action,
			strconv.FormatFloat(r.Reward, 'f', -1, 64),
			r.Plan,
			r.SlowPrompt,
			r.SlowResponse,
			strconv.Itoa(r.SlowUnits),
			r.FastPrompt,
			r.FastResponse,
			strconv.Itoa(r.FastUnits),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// decodeCSV reads columns by header name. Missing columns stay zero, which
// lets logs of single-model agents load.
func decodeCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	if _, ok := index["action"]; !ok {
		return nil, errors.New("log has no action column")
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}

		field := func(name string) string {
			if i, ok := index[name]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}

		rec := Record{
			Render:       field("render"),
			Action:       field("action"),
			Plan:         field("plan"),
			SlowPrompt:   field("model2_prompt"),
			SlowResponse: field("model2_response"),
			FastPrompt:   field("model1_prompt"),
			FastResponse: field("model1_response"),
		}
		if rec.Reward, err = parseFloat(field("reward")); err != nil {
			return nil, fmt.Errorf("line %d: reward: %w", line, err)
		}
		if rec.SlowUnits, err = parseInt(field("model2_token_num")); err != nil {
			return nil, fmt.Errorf("line %d: model2_token_num: %w", line, err)
		}
		if rec.FastUnits, err = parseInt(field("model1_token_num")); err != nil {
			return nil, fmt.Errorf("line %d: model1_token_num: %w", line, err)
		}
		records = append(records, rec)
	}
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	return int(f), err
}

var _ Store = (*CSVStore)(nil)
