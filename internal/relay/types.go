package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// RelayID identifies a relay instance for its whole lifetime
type RelayID string

// TaskID identifies one unit of work
type TaskID string

// Serial identifies a generation of the site's relay-facing configuration.
// Serials are only compared for equality.
type Serial string

// DefaultSerial is the serial of a site that never activated a relay configuration
const DefaultSerial Serial = "0"

// Status is the lifecycle state of a task
type Status string

// Task status constants
const (
	StatusPending  Status = "pending"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transition is allowed from s
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// ParseStatus parses a status filter value
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusPending, StatusFinished, StatusFailed:
		return Status(value), nil
	default:
		return "", fmt.Errorf("unknown task status %q", value)
	}
}

// ResultType is the outcome a relay reports for a task
type ResultType string

// Result type constants
const (
	ResultOK    ResultType = "OK"
	ResultError ResultType = "ERROR"
)

// ParseResultType parses a result type reported by a relay
func ParseResultType(value string) (ResultType, error) {
	switch ResultType(value) {
	case ResultOK, ResultError:
		return ResultType(value), nil
	default:
		return "", fmt.Errorf("unknown result type %q", value)
	}
}

// StatusFor maps a reported result type to the terminal status it produces.
// It is the only place that decides the mapping.
func StatusFor(resultType ResultType) Status {
	if resultType == ResultOK {
		return StatusFinished
	}
	return StatusFailed
}

// Task is one unit of work owned by exactly one relay
type Task struct {
	ID            TaskID
	RelayID       RelayID
	Spec          TaskSpec
	Status        Status
	ResultType    ResultType
	ResultPayload []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Relay is the identity record of an admitted relay
type Relay struct {
	ID              RelayID   `json:"id"`
	Alias           string    `json:"alias"`
	CertFingerprint string    `json:"certFingerprint"`
	RegisteredAt    time.Time `json:"registeredAt"`
}

// TaskKind is the wire tag of a task spec variant
type TaskKind string

// Task kind constants
const (
	KindFetchAdHoc  TaskKind = "fetch_ad_hoc"
	KindRelayConfig TaskKind = "relay_config"
)

// TaskSpec is the closed set of work a relay understands.
// The unexported method keeps the set sealed to this package.
type TaskSpec interface {
	Kind() TaskKind
	taskSpec()
}

// FetchAdHocTask asks the relay to fetch monitoring data and return it
type FetchAdHocTask struct {
	Payload []byte
}

// Kind implements TaskSpec
func (FetchAdHocTask) Kind() TaskKind { return KindFetchAdHoc }
func (FetchAdHocTask) taskSpec()      {}

// RelayConfigSpec asks the relay to replace its configuration bundle
type RelayConfigSpec struct {
	Serial  Serial
	TarData []byte
}

// Kind implements TaskSpec
func (RelayConfigSpec) Kind() TaskKind { return KindRelayConfig }
func (RelayConfigSpec) taskSpec()      {}

// wireSpec is the tagged JSON form of a TaskSpec
type wireSpec struct {
	Type    TaskKind `json:"type"`
	Payload []byte   `json:"payload,omitempty"`
	Serial  Serial   `json:"serial,omitempty"`
	TarData []byte   `json:"tarData,omitempty"`
}

// EncodeSpec renders a spec in its tagged JSON form
func EncodeSpec(spec TaskSpec) (json.RawMessage, error) {
	var w wireSpec
	switch s := spec.(type) {
	case FetchAdHocTask:
		w = wireSpec{Type: KindFetchAdHoc, Payload: s.Payload}
	case RelayConfigSpec:
		w = wireSpec{Type: KindRelayConfig, Serial: s.Serial, TarData: s.TarData}
	default:
		return nil, fmt.Errorf("unsupported task spec %T", spec)
	}
	return json.Marshal(w)
}

// DecodeSpec parses the tagged JSON form of a spec
func DecodeSpec(data []byte) (TaskSpec, error) {
	var w wireSpec
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("invalid task spec: %w", err)
	}
	switch w.Type {
	case KindFetchAdHoc:
		return FetchAdHocTask{Payload: w.Payload}, nil
	case KindRelayConfig:
		return RelayConfigSpec{Serial: w.Serial, TarData: w.TarData}, nil
	default:
		return nil, fmt.Errorf("unknown task spec type %q", w.Type)
	}
}
