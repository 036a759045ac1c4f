// Package writer persists daily sentiment series as parquet files, optionally
// mirroring them to S3 and publishing them to Kafka.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	preader "github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	pwriter "github.com/xitongsys/parquet-go/writer"

	"sentiflow/config"
	"sentiflow/logger"
	"sentiflow/models"
)

const parquetParallelism = 4

// DailyRecord is the on-disk layout of one daily sentiment row.
type DailyRecord struct {
	Date     int64   `parquet:"name=date, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Source   string  `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	AvgScore float64 `parquet:"name=avg_score, type=DOUBLE"`
	Count    int64   `parquet:"name=count, type=INT64"`
	Label    string  `parquet:"name=label, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// JoinedRecord is a DailyRecord with the close price and return, when known.
type JoinedRecord struct {
	Date      int64    `parquet:"name=date, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Source    string   `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	AvgScore  float64  `parquet:"name=avg_score, type=DOUBLE"`
	Count     int64    `parquet:"name=count, type=INT64"`
	Label     string   `parquet:"name=label, type=BYTE_ARRAY, convertedtype=UTF8"`
	Close     *float64 `parquet:"name=close, type=DOUBLE, repetitiontype=OPTIONAL"`
	ReturnPct *float64 `parquet:"name=return_pct, type=DOUBLE, repetitiontype=OPTIONAL"`
}

func toDailyRecord(d models.DailySentiment) DailyRecord {
	return DailyRecord{
		Date:     models.DayStart(d.Date).UnixMilli(),
		Source:   d.Source,
		AvgScore: d.AvgScore,
		Count:    int64(d.Count),
		Label:    d.Label,
	}
}

func (r DailyRecord) model() models.DailySentiment {
	return models.DailySentiment{
		Date:     time.UnixMilli(r.Date).UTC(),
		Source:   r.Source,
		AvgScore: r.AvgScore,
		Count:    int(r.Count),
		Label:    r.Label,
	}
}

func toJoinedRecord(j models.JoinedRow) JoinedRecord {
	d := toDailyRecord(j.DailySentiment)
	return JoinedRecord{
		Date:      d.Date,
		Source:    d.Source,
		AvgScore:  d.AvgScore,
		Count:     d.Count,
		Label:     d.Label,
		Close:     j.Close,
		ReturnPct: j.ReturnPct,
	}
}

func (r JoinedRecord) model() models.JoinedRow {
	return models.JoinedRow{
		DailySentiment: DailyRecord{
			Date:     r.Date,
			Source:   r.Source,
			AvgScore: r.AvgScore,
			Count:    r.Count,
			Label:    r.Label,
		}.model(),
		Close:     r.Close,
		ReturnPct: r.ReturnPct,
	}
}

// memoryFileWriter implements source.ParquetFile for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) { return mfw, nil }

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) { return 0, nil }

func (mfw *memoryFileWriter) Read(b []byte) (int, error) { return 0, nil }

func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }

func (mfw *memoryFileWriter) Close() error { return nil }

func (mfw *memoryFileWriter) Bytes() []byte { return mfw.buffer.Bytes() }

// ParquetStore reads and writes daily series under local paths.
type ParquetStore struct {
	compression string
	uploader    *S3Uploader
	now         func() time.Time
	log         *logger.Log
}

// NewParquetStore creates a store. uploader may be nil.
func NewParquetStore(cfg config.StorageConfig, uploader *S3Uploader) *ParquetStore {
	return &ParquetStore{
		compression: strings.ToLower(cfg.Compression),
		uploader:    uploader,
		now:         time.Now,
		log:         logger.GetLogger(),
	}
}

// WithClock overrides the clock used for snapshot file names.
func (s *ParquetStore) WithClock(now func() time.Time) *ParquetStore {
	s.now = now
	return s
}

// Dataset names attached to data flow entries.
const (
	datasetDaily  = "daily_sentiment"
	datasetJoined = "daily_sentiment_with_price"
)

// SaveDaily writes rows to a timestamped snapshot next to path and to path
// itself, returning both file names (snapshot first).
func (s *ParquetStore) SaveDaily(ctx context.Context, rows []models.DailySentiment, path string) ([]string, error) {
	records := make([]DailyRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, toDailyRecord(r))
	}
	data, err := s.encode(new(DailyRecord), len(records), func(pw *pwriter.ParquetWriter) error {
		for _, rec := range records {
			if err := pw.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, data, path, len(rows), datasetDaily)
}

// SaveJoined writes the price-joined table the same way as SaveDaily.
func (s *ParquetStore) SaveJoined(ctx context.Context, rows []models.JoinedRow, path string) ([]string, error) {
	records := make([]JoinedRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, toJoinedRecord(r))
	}
	data, err := s.encode(new(JoinedRecord), len(records), func(pw *pwriter.ParquetWriter) error {
		for _, rec := range records {
			if err := pw.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, data, path, len(rows), datasetJoined)
}

// LoadDaily reads a file written by SaveDaily. A missing file yields an empty
// slice and a nil error. Rows come back sorted by source then date.
func (s *ParquetStore) LoadDaily(path string) ([]models.DailySentiment, error) {
	var records []DailyRecord
	if err := readAll(path, new(DailyRecord), &records); err != nil {
		return nil, err
	}
	out := make([]models.DailySentiment, 0, len(records))
	for _, r := range records {
		out = append(out, r.model())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// LoadJoined reads a file written by SaveJoined.
func (s *ParquetStore) LoadJoined(path string) ([]models.JoinedRow, error) {
	var records []JoinedRecord
	if err := readAll(path, new(JoinedRecord), &records); err != nil {
		return nil, err
	}
	out := make([]models.JoinedRow, 0, len(records))
	for _, r := range records {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *ParquetStore) encode(schema interface{}, n int, write func(pw *pwriter.ParquetWriter) error) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := pwriter.NewParquetWriter(fw, schema, parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch s.compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	if err := write(pw); err != nil {
		_ = pw.WriteStop()
		return nil, fmt.Errorf("failed to write parquet record: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	s.log.WithComponent("parquet_store").WithFields(logger.Fields{
		"rows":        n,
		"file_size":   fw.buffer.Len(),
		"compression": s.compression,
	}).Debug("parquet file encoded")
	return fw.Bytes(), nil
}

func (s *ParquetStore) persist(ctx context.Context, data []byte, path string, rows int, dataset string) ([]string, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	snapshot := SnapshotPath(path, s.now())
	paths := []string{snapshot, path}
	for _, p := range paths {
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", p, err)
		}
	}

	log := s.log.WithComponent("parquet_store").WithFields(logger.Fields{
		"path":     path,
		"snapshot": snapshot,
		"rows":     rows,
		"dataset":  dataset,
	})
	log.Info("parquet files written")

	if s.uploader != nil {
		for _, p := range paths {
			if err := s.uploader.Upload(ctx, s.uploader.Key(p), data); err != nil {
				return paths, err
			}
		}
	}
	logger.LogDataFlowEntry(log, "pipeline", "parquet", rows, dataset)
	return paths, nil
}

// SnapshotPath returns path with a _YYYYmmdd_HHMMSS suffix before the
// extension.
func SnapshotPath(path string, at time.Time) string {
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".parquet"
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return fmt.Sprintf("%s_%s%s", base, at.UTC().Format("20060102_150405"), ext)
}

func readAll[T any](path string, schema interface{}, out *[]T) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			*out = []T{}
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := preader.NewParquetReader(fr, schema, parquetParallelism)
	if err != nil {
		return fmt.Errorf("read parquet footer %s: %w", path, err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]T, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return fmt.Errorf("read rows %s: %w", path, err)
		}
	}
	*out = rows
	return nil
}
