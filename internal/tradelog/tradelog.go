package tradelog

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/types"
)

// Files are bucketed by exchange-local trading day.
var exchangeZone = time.FixedZone("IST", 19800)

// FillEntry is one line of the fills journal.
type FillEntry struct {
	Time string `json:"time"`
	types.Fill
}

// DecisionEntry is one line of the decisions journal.
type DecisionEntry struct {
	Time string `json:"time"`
	types.DecisionRecord
}

// FileJournal appends JSON lines to daily files under a root directory:
// <root>/fills/YYYY-MM-DD.txt and <root>/decisions/YYYY-MM-DD.txt.
type FileJournal struct {
	root string
	mu   sync.Mutex
}

var _ interfaces.Journal = (*FileJournal)(nil)

// LogDir is TRADER_LOG_DIR, or "logs".
func LogDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

// NewFileJournal writes under root; an empty root means LogDir().
func NewFileJournal(root string) *FileJournal {
	if root == "" {
		root = LogDir()
	}
	return &FileJournal{root: root}
}

func (j *FileJournal) Root() string { return j.root }

func (j *FileJournal) FillsPath(t time.Time) string {
	return filepath.Join(j.root, "fills", t.In(exchangeZone).Format("2006-01-02")+".txt")
}

func (j *FileJournal) DecisionsPath(t time.Time) string {
	return filepath.Join(j.root, "decisions", t.In(exchangeZone).Format("2006-01-02")+".txt")
}

func (j *FileJournal) RecordFill(_ context.Context, f types.Fill) error {
	e := FillEntry{Time: f.Timestamp.In(exchangeZone).Format("2006-01-02 15:04:05"), Fill: f}
	return j.appendLine(j.FillsPath(f.Timestamp), e)
}

func (j *FileJournal) RecordDecision(_ context.Context, d types.DecisionRecord) error {
	e := DecisionEntry{Time: d.Timestamp.In(exchangeZone).Format("2006-01-02 15:04:05"), DecisionRecord: d}
	return j.appendLine(j.DecisionsPath(d.Timestamp), e)
}

func (j *FileJournal) Close() error { return nil }

func (j *FileJournal) appendLine(p string, v any) error {
	b, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips journal files last modified more than retentionDays ago
// and removes the originals.
func (j *FileJournal) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	j.mu.Lock()
	defer j.mu.Unlock()

	return filepath.WalkDir(j.root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".txt" {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}

		gz := p + ".gz"
		// already compressed on an earlier pass
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err == nil {
			_ = os.Remove(p)
		}
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	_, copyErr := io.Copy(gw, in)
	closeErr := gw.Close()
	if err := out.Close(); err != nil && copyErr == nil && closeErr == nil {
		return err
	}
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// ReadFills returns the fills journaled for the trading day containing t.
// A missing file yields no fills.
func (j *FileJournal) ReadFills(t time.Time) ([]types.Fill, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.FillsPath(t))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fills []types.Fill
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e FillEntry
		if err := sonic.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		fills = append(fills, e.Fill)
	}
	return fills, sc.Err()
}
