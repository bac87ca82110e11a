package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/osmotic/tessera/internal/domain"
	"go.uber.org/zap"
)

// Adapter fetches raw records from an external source.
type Adapter interface {
	Fetch(ctx context.Context) ([]map[string]any, error)
}

// Disconnecter is optionally implemented by adapters holding connections.
// The pipeline always calls it after a fetch, whatever the outcome.
type Disconnecter interface {
	Disconnect(ctx context.Context) error
}

// Transformer turns one raw record into the external-data envelope.
// Returning (nil, nil) means "intentionally skip this record".
type Transformer interface {
	Transform(raw map[string]any) (*domain.ExternalData, error)
}

// PipelineOptions tune one ingestion run.
type PipelineOptions struct {
	Strategy    ConflictResolutionStrategy
	StopOnError bool
}

// ItemError records a per-item failure by its position in the fetched batch.
type ItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// PipelineSummary is the accounting for one run. Skipped records count
// toward TotalProcessed but neither success nor failure.
type PipelineSummary struct {
	TotalProcessed int                    `json:"total_processed"`
	SuccessCount   int                    `json:"success_count"`
	FailureCount   int                    `json:"failure_count"`
	Errors         []ItemError            `json:"errors,omitempty"`
	Results        []TransformationResult `json:"results,omitempty"`
}

// Pipeline drives adapter, transformer, and the semantic access layer for
// bulk ingestion. Every record still passes the full validate-before-append
// gate inside SubmitExternalData.
type Pipeline struct {
	adapter     Adapter
	transformer Transformer
	sal         *SemanticService
	opts        PipelineOptions
	logger      *zap.Logger
}

func NewPipeline(adapter Adapter, transformer Transformer, sal *SemanticService, opts PipelineOptions, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		adapter:     adapter,
		transformer: transformer,
		sal:         sal,
		opts:        opts,
		logger:      logger,
	}
}

// Run fetches, transforms, and submits every record. An adapter fetch
// failure aborts the run with a *domain.IngestionError; per-item failures
// are recorded in the summary and do not abort unless StopOnError is set.
func (p *Pipeline) Run(ctx context.Context) (*PipelineSummary, error) {
	if d, ok := p.adapter.(Disconnecter); ok {
		defer func() {
			if err := d.Disconnect(ctx); err != nil {
				p.logger.Warn("adapter disconnect failed", zap.Error(err))
			}
		}()
	}

	records, err := p.adapter.Fetch(ctx)
	if err != nil {
		return nil, &domain.IngestionError{Stage: "fetch", Err: err}
	}

	summary := &PipelineSummary{}
	for i, raw := range records {
		summary.TotalProcessed++

		data, err := p.transformer.Transform(raw)
		if err != nil {
			summary.FailureCount++
			summary.Errors = append(summary.Errors, ItemError{Index: i, Message: fmt.Sprintf("transform: %v", err)})
			if p.opts.StopOnError {
				break
			}
			continue
		}
		if data == nil {
			continue
		}

		result, err := p.sal.SubmitExternalData(ctx, data, p.opts.Strategy)
		if err != nil {
			summary.FailureCount++
			summary.Errors = append(summary.Errors, ItemError{Index: i, Message: fmt.Sprintf("submit: %v", err)})
			if p.opts.StopOnError {
				break
			}
			continue
		}

		summary.Results = append(summary.Results, *result)
		if result.Success {
			summary.SuccessCount++
		} else {
			summary.FailureCount++
			msg := result.Conflict
			if msg == "" && len(result.Violations) > 0 {
				msg = result.Violations[0].Message
			}
			summary.Errors = append(summary.Errors, ItemError{Index: i, Message: msg})
			if p.opts.StopOnError {
				break
			}
		}
	}

	p.logger.Info("ingestion run complete",
		zap.Int("total", summary.TotalProcessed),
		zap.Int("succeeded", summary.SuccessCount),
		zap.Int("failed", summary.FailureCount),
	)
	return summary, nil
}

// FileAdapter reads one JSON object per line. It is the reference Adapter
// implementation and the test fixture loader.
type FileAdapter struct {
	Path string
}

func (a *FileAdapter) Fetch(ctx context.Context) ([]map[string]any, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(text, &record); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, record)
	}
	return out, scanner.Err()
}
