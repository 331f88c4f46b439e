package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"crossRebalance/internal/model"
	"crossRebalance/internal/protocol"
)

// OutboxRecord is one dispatched envelope as written for an external relayer.
type OutboxRecord struct {
	ID            common.Hash    `json:"id"`
	Source        uint64         `json:"source"`
	SourceAddress common.Address `json:"source_address"`
	Destination   uint64         `json:"destination"`
	Nonce         uint64         `json:"nonce"`
	Envelope      hexutil.Bytes  `json:"envelope"`
	Fee           string         `json:"fee"`
	SentAt        string         `json:"sent_at"`
}

// JSONLOutbox is a transport that appends envelopes to a JSONL file. A relayer
// (or the relay command) later reads the file and calls receive on the
// destination chain.
type JSONLOutbox struct {
	path    string
	chainID uint64
	address common.Address
	minFee  *uint256.Int
	mu      sync.Mutex
}

// NewJSONLOutbox creates an outbox transport for the chain at address.
func NewJSONLOutbox(path string, chainID uint64, address common.Address, minFee *uint256.Int) *JSONLOutbox {
	if minFee == nil {
		minFee = new(uint256.Int)
	}
	return &JSONLOutbox{path: path, chainID: chainID, address: address, minFee: minFee.Clone()}
}

// Path returns the file the outbox appends to.
func (o *JSONLOutbox) Path() string { return o.path }

// MinFee implements protocol.Transport.
func (o *JSONLOutbox) MinFee(context.Context, uint64, []byte) (*uint256.Int, error) {
	return o.minFee.Clone(), nil
}

// Dispatch implements protocol.Transport.
func (o *JSONLOutbox) Dispatch(_ context.Context, destination uint64, envelope []byte, fee *uint256.Int) error {
	msg, err := protocol.Decode(envelope)
	if err != nil {
		return err
	}
	record := OutboxRecord{
		ID:            protocol.MessageID(envelope),
		Source:        o.chainID,
		SourceAddress: o.address,
		Destination:   destination,
		Nonce:         msg.Nonce,
		Envelope:      append(hexutil.Bytes(nil), envelope...),
		Fee:           model.FormatAmount(fee),
		SentAt:        time.Now().UTC().Format(time.RFC3339),
	}
	return o.append([]OutboxRecord{record})
}

func (o *JSONLOutbox) append(records []OutboxRecord) error {
	if len(records) == 0 {
		return nil
	}

	dir := filepath.Dir(o.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create outbox dir: %w", err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	file, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open outbox file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal outbox record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write outbox record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush outbox: %w", err)
	}
	return file.Sync()
}

// ReadOutbox reads every record in an outbox file. A missing file is empty.
func ReadOutbox(path string) ([]OutboxRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open outbox file: %w", err)
	}
	defer file.Close()

	var records []OutboxRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record OutboxRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("outbox line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan outbox: %w", err)
	}
	return records, nil
}
