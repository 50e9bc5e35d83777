package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry kinds.
const (
	KindSellSubmitted = "sell_submitted"
	KindSellAccepted  = "sell_accepted"
	KindSellFailed    = "sell_failed"
	KindFillRejected  = "fill_rejected"
	KindTriggerPlaced = "trigger_placed"
	KindTriggerFailed = "trigger_failed"
)

// Entry is one audit record. Fields that don't apply to a kind are omitted.
type Entry struct {
	Type       string `json:"type"`
	Ts         string `json:"ts"`
	TradeID    string `json:"trade_id,omitempty"`
	Instrument string `json:"instrument,omitempty"`
	Size       string `json:"size,omitempty"`
	Price      string `json:"price,omitempty"`
	ClientID   string `json:"client_id,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

// Journal is a daily-rotating JSONL file writer.
type Journal struct {
	dir      string
	prefix   string
	mu       sync.Mutex
	file     *os.File
	fileDate string // "2006-01-02" of current file
	now      func() time.Time
}

func Open(dir, prefix string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	return &Journal{dir: dir, prefix: prefix, now: time.Now}, nil
}

// Record appends e, stamping Ts when it is empty. A nil Journal discards.
func (j *Journal) Record(e Entry) error {
	if j == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now().UTC()
	if e.Ts == "" {
		e.Ts = now.Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}
	data = append(data, '\n')

	if err := j.ensureFile(now); err != nil {
		return err
	}
	_, err = j.file.Write(data)
	return err
}

func (j *Journal) ensureFile(now time.Time) error {
	today := now.Format("2006-01-02")
	if j.file != nil && j.fileDate == today {
		return nil
	}

	if j.file != nil {
		j.file.Close()
	}

	path := filepath.Join(j.dir, fmt.Sprintf("%s-%s.jsonl", j.prefix, today))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening journal file: %w", err)
	}

	j.file = f
	j.fileDate = today
	return nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		return err
	}
	return nil
}
