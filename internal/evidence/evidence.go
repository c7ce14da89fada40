// Package evidence records one tamper-evident file per executor/LLM
// call: a hash of the outbound prompt and a hash of the inbound
// response, so later verification never has to trust an in-memory claim
// that a call happened.
package evidence

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelrun/runner/internal/atomicio"
	"github.com/kestrelrun/runner/internal/errkind"
	"github.com/kestrelrun/runner/internal/mask"
)

// Message is one entry of a canonicalized prompt message list.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Record is the canonical JSON content of one evidence file. Field order
// here is the canonical order — encoding/json already emits struct
// fields in declaration order, which is exactly what "canonical" means
// for this contract.
type Record struct {
	CallID           string    `json:"callId"`
	TaskID           string    `json:"taskId"`
	SessionID        string    `json:"sessionId"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	RequestHash      string    `json:"requestHash"`
	ResponseHash     string    `json:"responseHash,omitempty"`
	RequestMaterial  []Message `json:"requestMaterial,omitempty"`
	ResponseMaterial string    `json:"responseMaterial,omitempty"`
	Success          bool      `json:"success"`
	FailureKind      string    `json:"failureKind,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// NewCallID mints an id of the form llm-<base36(unixNano)>-<4 random hex
// bytes>: sortable by creation order, and unguessable in its suffix.
func NewCallID(now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", errkind.New(errkind.Persistence, "NewCallID", err)
	}
	ts := big.NewInt(now.UnixNano())
	return fmt.Sprintf("llm-%s-%s", ts.Text(36), hex.EncodeToString(buf)), nil
}

func hashOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashRequest hashes the canonicalized prompt message list.
func HashRequest(messages []Message) (string, error) {
	data, err := json.Marshal(messages)
	if err != nil {
		return "", errkind.New(errkind.Persistence, "HashRequest", err)
	}
	return hashOf(data), nil
}

// HashResponse hashes the raw response text. Callers pass "" on failure,
// which HashResponse reports back as an empty hash (never a fabricated one).
func HashResponse(raw string) string {
	if raw == "" {
		return ""
	}
	return hashOf([]byte(raw))
}

// MaskMessages returns a copy of messages with every Content field
// masked, so the material this package persists and later hands back to
// the integrity gate never carries a raw secret.
func MaskMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = Message{Role: m.Role, Content: mask.Mask(m.Content)}
	}
	return out
}

// NewRecord builds a tamper-evident evidence record for one executor or
// LLM call. Request and response content is masked before either being
// hashed or persisted, so the recoverable material backing the
// integrity gate is exactly what a verifier re-hashes and exactly what
// ever touches disk — there is no separate unmasked copy anywhere to
// leak.
func NewRecord(callID, taskID, sessionID, provider, model string, messages []Message, responseContent string, success bool, failureKind string, now time.Time) (Record, error) {
	maskedMessages := MaskMessages(messages)
	maskedResponse := mask.Mask(responseContent)

	requestHash, err := HashRequest(maskedMessages)
	if err != nil {
		return Record{}, err
	}

	return Record{
		CallID:           callID,
		TaskID:           taskID,
		SessionID:        sessionID,
		Provider:         provider,
		Model:            model,
		RequestHash:      requestHash,
		ResponseHash:     HashResponse(maskedResponse),
		RequestMaterial:  maskedMessages,
		ResponseMaterial: maskedResponse,
		Success:          success,
		FailureKind:      failureKind,
		CreatedAt:        now,
	}, nil
}

// Manager writes and reads evidence files under a session's evidence
// directory.
type Manager struct {
	dir    string
	writer *atomicio.Writer
}

// NewManager constructs a Manager rooted at dir (normally
// `<project>/.claude/logs/sessions/<id>/evidence`).
func NewManager(dir string, writer *atomicio.Writer) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errkind.New(errkind.Persistence, "NewManager", err)
	}
	return &Manager{dir: dir, writer: writer}, nil
}

// Dir reports the evidence directory this manager writes to.
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) path(callID string) string {
	return filepath.Join(m.dir, callID+".json")
}

// Write persists one evidence record, keyed by its call id.
func (m *Manager) Write(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errkind.New(errkind.Persistence, "Write", err)
	}
	res := m.writer.Write(ctx, m.path(rec.CallID), data, atomicio.Opts{ForceFsync: true})
	if !res.Success {
		return errkind.New(errkind.Persistence, "Write", res.Err)
	}
	return nil
}

// Read loads one evidence record by call id.
func (m *Manager) Read(callID string) (Record, error) {
	data, err := os.ReadFile(m.path(callID))
	if err != nil {
		return Record{}, errkind.New(errkind.EvidenceGap, "Read", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, errkind.New(errkind.EvidenceGap, "Read", fmt.Errorf("corrupt evidence file %s: %w", callID, err))
	}
	return rec, nil
}

// List enumerates every evidence record under the directory.
func (m *Manager) List() ([]Record, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errkind.New(errkind.Persistence, "List", err)
	}

	var out []Record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		callID := e.Name()
		if ext := filepath.Ext(callID); ext == ".json" {
			callID = callID[:len(callID)-len(ext)]
		}
		rec, err := m.Read(callID)
		if err != nil {
			continue // corrupt/unreadable evidence file: skip, never delete
		}
		out = append(out, rec)
	}
	return out, nil
}

// VerifyIntegrity recomputes request/response hashes for one record
// against freshly supplied material and reports whether they match the
// stored values.
func VerifyIntegrity(rec Record, messages []Message, rawResponse string) (bool, error) {
	wantReq, err := HashRequest(messages)
	if err != nil {
		return false, err
	}
	if wantReq != rec.RequestHash {
		return false, nil
	}
	wantResp := HashResponse(rawResponse)
	return wantResp == rec.ResponseHash, nil
}

// ParseCallIDTime extracts the base36 timestamp component for ordering
// checks; primarily useful in tests and the Completion Protocol's
// run-scoping logic.
func ParseCallIDTime(callID string) (int64, error) {
	const prefix = "llm-"
	if len(callID) <= len(prefix) || callID[:len(prefix)] != prefix {
		return 0, errkind.New(errkind.Configuration, "ParseCallIDTime", fmt.Errorf("malformed call id %q", callID))
	}
	rest := callID[len(prefix):]
	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return 0, errkind.New(errkind.Configuration, "ParseCallIDTime", fmt.Errorf("malformed call id %q", callID))
	}
	n, err := strconv.ParseInt(rest[:dash], 36, 64)
	if err != nil {
		return 0, errkind.New(errkind.Configuration, "ParseCallIDTime", err)
	}
	return n, nil
}
