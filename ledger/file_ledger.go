package ledger

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"votemesh/models"
)

// FileLedger persists the ledger surface as a single JSON document
// with atomic tmp+rename writes.
type FileLedger struct {
	path string
	mu   sync.RWMutex
	doc  ledgerDoc
}

type ledgerDoc struct {
	State       string               `json:"state"`
	Signature   string               `json:"signature"`
	Submissions []Submission         `json:"submissions"`
	Payouts     []models.PayoutEntry `json:"payouts"`
}

// NewFileLedger opens or creates a ledger file under basePath.
func NewFileLedger(basePath string) (*FileLedger, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	l := &FileLedger{path: filepath.Join(basePath, "ledger.json")}
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read ledger: %w", err)
		}
		return l, nil
	}
	if err := json.Unmarshal(data, &l.doc); err != nil {
		return nil, fmt.Errorf("failed to parse ledger: %w", err)
	}
	return l, nil
}

func (l *FileLedger) save() error {
	data, err := json.MarshalIndent(&l.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	tempPath := l.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	if err := os.Rename(tempPath, l.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save ledger file: %w", err)
	}
	return nil
}

func (l *FileLedger) CurrentState() ([]byte, []byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.doc.State == "" {
		return nil, nil, nil
	}
	state, err := base64.StdEncoding.DecodeString(l.doc.State)
	if err != nil {
		return nil, nil, fmt.Errorf("corrupt ledger state: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(l.doc.Signature)
	if err != nil {
		return nil, nil, fmt.Errorf("corrupt ledger signature: %w", err)
	}
	return state, sig, nil
}

func (l *FileLedger) WriteState(state, signature []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.doc.State = base64.StdEncoding.EncodeToString(state)
	l.doc.Signature = base64.StdEncoding.EncodeToString(signature)
	return l.save()
}

func (l *FileLedger) AppendSubmission(encryptedVote, encryptedSymKey, capsule string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	txID := uuid.New().String()
	l.doc.Submissions = append(l.doc.Submissions, Submission{
		TxID:            txID,
		EncryptedVote:   encryptedVote,
		EncryptedSymKey: encryptedSymKey,
		Capsule:         capsule,
		SubmittedAt:     time.Now().UTC(),
	})
	if err := l.save(); err != nil {
		return "", err
	}
	return txID, nil
}

func (l *FileLedger) Submissions() ([]Submission, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	subs := make([]Submission, len(l.doc.Submissions))
	copy(subs, l.doc.Submissions)
	return subs, nil
}

func (l *FileLedger) WritePayouts(batch []models.PayoutEntry) error {
	if len(batch) > MaxPayoutBatch {
		return fmt.Errorf("payout batch of %d exceeds limit %d", len(batch), MaxPayoutBatch)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.doc.Payouts = append(l.doc.Payouts, batch...)
	return l.save()
}

func (l *FileLedger) Payouts() ([]models.PayoutEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	payouts := make([]models.PayoutEntry, len(l.doc.Payouts))
	copy(payouts, l.doc.Payouts)
	return payouts, nil
}
