package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/retrieval"
)

const (
	defaultBatchSize = 32
	maxLineSize      = 4 * 1024 * 1024
)

func newIngestCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "ingest <file.jsonl|->",
		Short: "Embed and index documents from a JSONL file",
		Long: `Each line is one document:

  {"id":"hr-001","title":"Leave policy","content":"...","source":"hr",
   "sensitivity":"confidential","teams":["hr"]}

Documents with an existing id are replaced. Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), args[0], batchSize, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", defaultBatchSize, "documents embedded per request")
	return cmd
}

func runIngest(ctx context.Context, path string, batchSize int, out io.Writer) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	docs, err := readDocuments(r)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := ingest(ctx, docs, a.embedder, a.index, batchSize)
	if err != nil {
		return err
	}
	a.logger.Info(ctx, "ingest complete", zap.Int("documents", n), zap.String("collection", a.cfg.Retrieval.Collection))
	fmt.Fprintf(out, "indexed %d documents\n", n)
	return nil
}

// readDocuments decodes one document per non-empty line.
func readDocuments(r io.Reader) ([]retrieval.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var docs []retrieval.Document
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var d retrieval.Document
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if d.Tier != "" {
			tier, ok := conversation.ParseTier(string(d.Tier))
			if !ok {
				return nil, fmt.Errorf("line %d: unknown sensitivity %q", line, d.Tier)
			}
			d.Tier = tier
		}
		docs = append(docs, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	return docs, nil
}

type documentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type documentIndex interface {
	Index(ctx context.Context, docs []retrieval.Document) error
}

// ingest embeds docs in batches and writes each batch to idx.
func ingest(ctx context.Context, docs []retrieval.Document, e documentEmbedder, idx documentIndex, batchSize int) (int, error) {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	indexed := 0
	for start := 0; start < len(docs); start += batchSize {
		batch := docs[start:min(start+batchSize, len(docs))]
		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}
		vectors, err := e.EmbedDocuments(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embedding documents %d-%d: %w", start, start+len(batch)-1, err)
		}
		if len(vectors) != len(batch) {
			return indexed, fmt.Errorf("embedding documents %d-%d: got %d vectors", start, start+len(batch)-1, len(vectors))
		}
		for i := range batch {
			batch[i].Vector = vectors[i]
		}
		if err := idx.Index(ctx, batch); err != nil {
			return indexed, fmt.Errorf("indexing documents %d-%d: %w", start, start+len(batch)-1, err)
		}
		indexed += len(batch)
	}
	return indexed, nil
}
