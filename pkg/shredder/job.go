package shredder

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
)

// DefaultCategory is the category of jobs created without one.
const DefaultCategory = "resource"

// HandleLength is the length of a generated job handle.
const HandleLength = 12

const handleAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Job is a job record as stored by the registry.
type Job struct {
	Handle            string          `json:"handle"`
	Description       json.RawMessage `json:"description"`
	Priority          int             `json:"priority,omitempty"`
	Category          string          `json:"category"`
	Status            Status          `json:"status"`
	StatusDescription string          `json:"statusDescription"`
	StepTotal         int             `json:"stepTotal"`
	StepComplete      int             `json:"stepComplete"`
	FrameDescription  string          `json:"frameDescription"`
	FrameTotal        int             `json:"frameTotal"`
	FrameComplete     int             `json:"frameComplete"`

	// Worker names the worker bound to the job; empty when none is.
	Worker string `json:"worker,omitempty"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Description != nil {
		cp.Description = append(json.RawMessage(nil), j.Description...)
	}
	return &cp
}

// JobChanges are the caller-editable fields of a job. Zero fields are left
// untouched; Status is applied only by a forced update.
type JobChanges struct {
	Description any
	Priority    int
	Status      Status
}

// NewHandle returns a random alphanumeric handle of HandleLength characters.
func NewHandle() (string, error) {
	max := big.NewInt(int64(len(handleAlphabet)))
	b := make([]byte, HandleLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate handle: %w", err)
		}
		b[i] = handleAlphabet[n.Int64()]
	}
	return string(b), nil
}

func encodeDescription(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode description: %w", err)
	}
	return b, nil
}
