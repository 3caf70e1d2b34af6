package dataset

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/mail-sentinel/internal/logger"
	"github.com/raaihank/mail-sentinel/internal/pii"
	"github.com/raaihank/mail-sentinel/internal/textnorm"
)

// Masker masks PII in a single text.
type Masker interface {
	Mask(text string) pii.Result
}

// Pipeline reads a labeled dataset and prepares it for training. Every email
// goes through the same masking and normalization the server applies.
type Pipeline struct {
	masker Masker
	config Config
	logger *logger.Logger
}

// NewPipeline creates a new dataset pipeline
func NewPipeline(masker Masker, config Config, log *logger.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = 1000
	}
	return &Pipeline{masker: masker, config: config, logger: log}
}

// LoadFile reads a dataset file (CSV, Parquet, or JSON lines) into a corpus.
func (p *Pipeline) LoadFile(ctx context.Context, filePath string) (*Corpus, *LoadResult, error) {
	format := DetectFileFormat(filePath)
	p.logger.Info("Loading dataset",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	file, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	var next func() (Record, error)
	switch format {
	case FormatCSV:
		next, err = csvRecords(file)
	case FormatParquet:
		reader := parquet.NewReader(file)
		defer reader.Close()
		next = func() (Record, error) {
			var rec Record
			err := reader.Read(&rec)
			return rec, err
		}
	case FormatJSON:
		decoder := json.NewDecoder(file)
		next = func() (Record, error) {
			var rec Record
			err := decoder.Decode(&rec)
			return rec, err
		}
	default:
		return nil, nil, fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s processing failed: %w", format, err)
	}

	return p.Load(ctx, next)
}

// csvRecords reads a CSV with a header naming the email and type columns.
func csvRecords(r io.Reader) (func() (Record, error), error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	emailCol, typeCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "email":
			emailCol = i
		case "type":
			typeCol = i
		}
	}
	if emailCol < 0 || typeCol < 0 {
		return nil, fmt.Errorf("CSV header must contain email and type columns, got %v", header)
	}

	return func() (Record, error) {
		row, err := reader.Read()
		if err != nil {
			return Record{}, err
		}
		var rec Record
		if emailCol < len(row) {
			rec.Email = row[emailCol]
		}
		if typeCol < len(row) {
			rec.Type = row[typeCol]
		}
		return rec, nil
	}, nil
}

// Load drains next in batches until io.EOF. Records with an empty email or
// type are skipped. Malformed rows fail the load.
func (p *Pipeline) Load(ctx context.Context, next func() (Record, error)) (*Corpus, *LoadResult, error) {
	start := time.Now()
	corpus := &Corpus{}
	result := &LoadResult{Classes: make(map[string]int)}
	lastReport := int64(0)

	for {
		if err := ctx.Err(); err != nil {
			return nil, result, err
		}

		batch, done, err := p.readBatch(next, result)
		if err != nil {
			return nil, result, err
		}

		docs, masked := p.processBatch(ctx, batch)
		result.Masked += masked
		for i, rec := range batch {
			corpus.Documents = append(corpus.Documents, docs[i])
			corpus.Labels = append(corpus.Labels, rec.Type)
			result.Classes[rec.Type]++
		}

		if result.TotalRecords-lastReport >= int64(p.config.ProgressReport) {
			lastReport = result.TotalRecords
			p.logger.Info("Processing progress",
				zap.Int64("records_read", result.TotalRecords),
				zap.Int64("skipped", result.Skipped),
				zap.Duration("elapsed", time.Since(start)))
		}

		if done {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, result, err
	}

	result.Duration = time.Since(start)
	p.logger.Info("Dataset loaded",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int("documents", corpus.Len()),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("masked_entities", result.Masked),
		zap.Any("classes", result.Classes),
		zap.Duration("duration", result.Duration))

	return corpus, result, nil
}

func (p *Pipeline) readBatch(next func() (Record, error), result *LoadResult) ([]Record, bool, error) {
	batch := make([]Record, 0, p.config.BatchSize)
	for len(batch) < p.config.BatchSize {
		rec, err := next()
		if errors.Is(err, io.EOF) {
			return batch, true, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to read record %d: %w", result.TotalRecords+1, err)
		}
		result.TotalRecords++

		rec.Type = strings.TrimSpace(rec.Type)
		if strings.TrimSpace(rec.Email) == "" || rec.Type == "" {
			result.Skipped++
			continue
		}
		batch = append(batch, rec)
	}
	return batch, false, nil
}

// processBatch masks and normalizes a batch across the worker pool. The
// output slice is index-aligned with the batch.
func (p *Pipeline) processBatch(ctx context.Context, batch []Record) ([]string, int64) {
	docs := make([]string, len(batch))
	counts := make([]int, len(batch))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.config.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res := p.masker.Mask(batch[i].Email)
				docs[i] = textnorm.Normalize(res.MaskedText)
				counts[i] = len(res.Entities)
			}
		}()
	}

feed:
	for i := range batch {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	var masked int64
	for _, c := range counts {
		masked += int64(c)
	}
	return docs, masked
}
