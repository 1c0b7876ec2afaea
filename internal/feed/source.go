package feed

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"io/fs"
	"math"
	"os"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/logger"
	"news-trend-trader/internal/types"
)

type signalLine struct {
	InstrumentID string  `json:"instrument_id"`
	Timestamp    string  `json:"timestamp"`
	Label        string  `json:"label"`
	Confidence   float64 `json:"confidence"`
	SourceID     string  `json:"source_id"`
}

// FileSignalSource tails a JSONL file written by the sentiment classifier.
// Each Poll returns the complete lines appended since the previous Poll.
type FileSignalSource struct {
	path   string
	mu     sync.Mutex
	offset int64
}

var _ interfaces.SignalSource = (*FileSignalSource)(nil)

func NewFileSignalSource(path string) *FileSignalSource {
	return &FileSignalSource{path: path}
}

func (s *FileSignalSource) Poll(ctx context.Context) ([]types.SentimentSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < s.offset {
		// truncated or rotated
		s.offset = 0
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil, err
	}

	var signals []types.SentimentSignal
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// partial line stays for the next poll
			break
		}
		if err != nil {
			return signals, err
		}
		s.offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		sig, err := decodeSignal(line)
		if err != nil {
			logger.Warn(ctx, "Skipping malformed signal line", "path", s.path, "error", err)
			continue
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

func decodeSignal(line []byte) (types.SentimentSignal, error) {
	var l signalLine
	if err := sonic.Unmarshal(line, &l); err != nil {
		return types.SentimentSignal{}, err
	}
	ts, err := ParseTime(l.Timestamp)
	if err != nil {
		return types.SentimentSignal{}, err
	}
	if l.InstrumentID == "" {
		return types.SentimentSignal{}, types.ErrMalformedInput
	}
	if math.IsNaN(l.Confidence) || l.Confidence < 0 || l.Confidence > 1 {
		return types.SentimentSignal{}, errors.Wrapf(types.ErrMalformedInput, "%s: confidence %v outside [0,1]", l.InstrumentID, l.Confidence)
	}
	return types.SentimentSignal{
		InstrumentID: l.InstrumentID,
		Timestamp:    ts,
		Label:        types.ParseLabel(l.Label),
		Confidence:   l.Confidence,
		SourceID:     l.SourceID,
	}, nil
}
