package analysis

// Package analysis is the core of the agent: fan out one canary analysis
// request to one or more model backends, let each run the diagnostic tool
// loop, then combine their verdicts with confidence-weighted voting.

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is one canary analysis request.
type Request struct {
	UserID  string        `json:"userId"`
	Prompt  string        `json:"prompt"`
	Context ContextFields `json:"context"`

	// ModelsToUse overrides the configured backend set for this request.
	ModelsToUse []string `json:"modelsToUse,omitempty"`
}

// ContextFields is an ordered set of context key/value pairs. Order is
// preserved from the incoming JSON so the prompt renders fields in the
// order the caller sent them.
type ContextFields struct {
	keys   []string
	values map[string]interface{}
}

// NewContextFields builds an ordered field set from pairs of key, value.
func NewContextFields(pairs ...interface{}) ContextFields {
	cf := ContextFields{values: make(map[string]interface{})}
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		cf.Set(key, pairs[i+1])
	}
	return cf
}

// Set adds or replaces a field, appending new keys at the end.
func (c *ContextFields) Set(key string, value interface{}) {
	if c.values == nil {
		c.values = make(map[string]interface{})
	}
	if _, exists := c.values[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Get returns the value for key.
func (c *ContextFields) Get(key string) (interface{}, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Keys returns the field names in insertion order.
func (c *ContextFields) Keys() []string { return c.keys }

// Len returns the number of fields.
func (c *ContextFields) Len() int { return len(c.keys) }

// UnmarshalJSON decodes a JSON object preserving key order via the
// decoder token stream.
func (c *ContextFields) UnmarshalJSON(data []byte) error {
	*c = ContextFields{values: make(map[string]interface{})}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("context must be a JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)

		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return err
		}
		c.Set(key, value)
	}

	_, err = dec.Token() // closing brace
	return err
}

// MarshalJSON encodes the fields as a JSON object in insertion order.
func (c ContextFields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(c.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Verdict is the structured output one model produces for a request.
type Verdict struct {
	Analysis    string `json:"analysis"`
	RootCause   string `json:"rootCause"`
	Remediation string `json:"remediation"`
	PRLink      string `json:"prLink,omitempty"`
	Promote     bool   `json:"promote"`
	Confidence  int    `json:"confidence"`
}

// ModelResult is the outcome of one model session: either a verdict or an
// error, never both. A failed session keeps its ModelName and timing so
// callers can see what happened.
type ModelResult struct {
	ModelName       string `json:"modelName"`
	Analysis        string `json:"analysis,omitempty"`
	RootCause       string `json:"rootCause,omitempty"`
	Remediation     string `json:"remediation,omitempty"`
	PRLink          string `json:"prLink,omitempty"`
	Promote         bool   `json:"promote"`
	Confidence      int    `json:"confidence"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	Error           string `json:"error,omitempty"`
}

// Succeeded reports whether the session produced a usable verdict.
func (r ModelResult) Succeeded() bool { return r.Error == "" }

// AggregatedResult is the combined multi-model verdict.
type AggregatedResult struct {
	Promote                 bool
	PromoteScore            float64
	RollbackScore           float64
	VotingRationale         string
	ConsolidatedAnalysis    string
	ConsolidatedRootCause   string
	ConsolidatedRemediation string
	AverageConfidence       int
}

// Response is the body returned to the caller. Single-model analyses pass
// the verdict through; multi-model analyses carry the aggregated verdict
// plus every per-model result and the voting rationale.
type Response struct {
	Analysis    string `json:"analysis"`
	RootCause   string `json:"rootCause"`
	Remediation string `json:"remediation"`
	PRLink      string `json:"prLink,omitempty"`
	Promote     bool   `json:"promote"`
	Confidence  int    `json:"confidence"`

	ModelResults    []ModelResult `json:"modelResults,omitempty"`
	VotingRationale string        `json:"votingRationale,omitempty"`
}
