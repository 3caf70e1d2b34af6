package dataset

import (
	"path/filepath"
	"strings"
	"time"
)

// Record is one labeled email from a training dataset
type Record struct {
	Email string `parquet:"email" json:"email"`
	Type  string `parquet:"type" json:"type"`
}

// Config contains dataset loading configuration
type Config struct {
	BatchSize      int // 1000
	WorkerCount    int // 4
	ProgressReport int // 1000
}

// Corpus is the cleaned training text and its labels, in input order
type Corpus struct {
	Documents []string
	Labels    []string
}

// Len returns the number of documents.
func (c *Corpus) Len() int {
	return len(c.Documents)
}

// Split moves an evenly spread fraction of the corpus into a holdout set.
// The split is deterministic.
func (c *Corpus) Split(fraction float64) (train, holdout *Corpus) {
	train, holdout = &Corpus{}, &Corpus{}
	for i := range c.Documents {
		dst := train
		if fraction > 0 && int(float64(i+1)*fraction) > int(float64(i)*fraction) {
			dst = holdout
		}
		dst.Documents = append(dst.Documents, c.Documents[i])
		dst.Labels = append(dst.Labels, c.Labels[i])
	}
	return train, holdout
}

// LoadResult represents the result of loading a dataset
type LoadResult struct {
	TotalRecords int64          `json:"total_records"`
	Skipped      int64          `json:"skipped"`
	Masked       int64          `json:"masked_entities"`
	Classes      map[string]int `json:"classes"`
	Duration     time.Duration  `json:"duration"`
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl":
		return FormatJSON
	default:
		return FormatCSV
	}
}
