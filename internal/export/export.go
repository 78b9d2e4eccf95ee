// Package export writes snapshot tables as CSV files, one directory per run,
// followed by a manifest.json describing what was written.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

const (
	manifestName   = "manifest.json"
	maxConcurrency = 4
)

// ByteObserver receives the size of every exported file.
type ByteObserver interface {
	AddExportBytes(sink string, n int64)
}

type File struct {
	Key      string `json:"key"`
	Location string `json:"location"`
	Rows     int    `json:"rows"`
	Bytes    int64  `json:"bytes"`
}

type Manifest struct {
	RunID      string    `json:"run_id"`
	Sink       string    `json:"sink"`
	ExportedAt time.Time `json:"exported_at"`
	Files      []File    `json:"files"`
}

type Exporter struct {
	sink Sink
	log  *logger.Logger
	obs  ByteObserver
	now  func() time.Time
}

func NewExporter(sink Sink, baseLog *logger.Logger, obs ByteObserver) *Exporter {
	return &Exporter{
		sink: sink,
		log:  baseLog.With("service", "Exporter", "sink", sink.Name()),
		obs:  obs,
		now:  time.Now,
	}
}

// Export writes every table under runID/ and then the manifest. The manifest
// is only written when all tables succeeded.
func (e *Exporter) Export(ctx context.Context, runID string, tables []Table) (Manifest, error) {
	m := Manifest{RunID: runID, Sink: e.sink.Name(), ExportedAt: e.now().UTC()}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, t := range tables {
		g.Go(func() error {
			body, err := encodeCSV(t)
			if err != nil {
				return fmt.Errorf("encode %s: %w", t.Name, err)
			}
			key := runID + "/" + t.Name + ".csv"
			n, err := e.sink.Write(gctx, key, bytes.NewReader(body))
			if err != nil {
				return err
			}
			if e.obs != nil {
				e.obs.AddExportBytes(e.sink.Name(), n)
			}
			mu.Lock()
			m.Files = append(m.Files, File{Key: key, Location: e.sink.Location(key), Rows: len(t.Rows), Bytes: n})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Manifest{}, fmt.Errorf("export run %s: %w", runID, err)
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Key < m.Files[j].Key })

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	key := runID + "/" + manifestName
	if _, err := e.sink.Write(ctx, key, bytes.NewReader(raw)); err != nil {
		return Manifest{}, fmt.Errorf("write manifest: %w", err)
	}
	e.log.Info("Export complete", "run_id", runID, "files", len(m.Files), "manifest", e.sink.Location(key))
	return m, nil
}

func encodeCSV(t Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
