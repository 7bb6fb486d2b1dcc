package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/logger"
)

// Audit actions, one per hook invocation.
const (
	ActionPreToolUse    = "pre_tool_use"
	ActionPostToolUse   = "post_tool_use"
	ActionStop          = "stop"
	ActionForceComplete = "force_complete"
)

// Audit statuses.
const (
	StatusAllowed          = "allowed"
	StatusDenied           = "denied"
	StatusCompleted        = "completed"
	StatusFailed           = "failed"
	StatusPassed           = "passed"
	StatusMissingDecisions = "missing_decisions"
)

// Audit lines longer than this are treated as corrupt on read.
const maxAuditLine = 1 << 20

// AuditEntry is one line of the append-only audit trail.
type AuditEntry struct {
	Time      time.Time       `json:"time"`
	TraceID   string          `json:"trace_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Project   string          `json:"project"`
	Role      string          `json:"role,omitempty"`
	Requester string          `json:"requester,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Action    string          `json:"action"`
	Status    string          `json:"status"`
	Detail    string          `json:"detail,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

// AuditFilter narrows a Query. Zero fields match everything. Limit keeps
// the most recent entries when set.
type AuditFilter struct {
	Project   string
	SessionID string
	Requester string
	Tool      string
	Action    string
	Status    string
	Since     time.Time
	Until     time.Time
	Limit     int
}

func (f *AuditFilter) matches(e *AuditEntry) bool {
	if f == nil {
		return true
	}
	if f.Project != "" && e.Project != f.Project {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Requester != "" && e.Requester != f.Requester {
		return false
	}
	if f.Tool != "" && e.Tool != f.Tool {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Time.After(f.Until) {
		return false
	}
	return true
}

type redactRule struct {
	re      *regexp.Regexp
	literal string
}

// Auditor appends governance events to a JSONL file. Hooks write through
// here before their outcome is returned, so denied attempts are on record
// too.
type Auditor struct {
	mu    sync.Mutex
	path  string
	rules []redactRule
}

// NewAuditor builds an auditor writing to path. Each redact pattern is
// compiled as a regular expression, falling back to a literal match when it
// does not compile.
func NewAuditor(path string, redact []string) *Auditor {
	a := &Auditor{path: path}
	for _, pattern := range redact {
		re, err := regexp.Compile(pattern)
		if err != nil {
			slog.Warn("Invalid redact pattern, matching literally", "pattern", pattern, "error", err)
			a.rules = append(a.rules, redactRule{literal: pattern})
			continue
		}
		a.rules = append(a.rules, redactRule{re: re})
	}
	return a
}

// Log appends one entry. Time, trace id and session id are stamped from the
// context when the caller left them empty.
func (a *Auditor) Log(ctx context.Context, e *AuditEntry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.TraceID == "" {
		e.TraceID = logger.GetTraceID(ctx)
	}
	if e.SessionID == "" {
		e.SessionID = logger.GetSessionID(ctx)
	}
	e.Input = a.redact(e.Input)
	e.Output = a.redact(e.Output)

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func (a *Auditor) redact(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || len(a.rules) == 0 {
		return raw
	}
	s := string(raw)
	for _, r := range a.rules {
		if r.re != nil {
			s = r.re.ReplaceAllString(s, "[REDACTED]")
			continue
		}
		s = strings.ReplaceAll(s, r.literal, "[REDACTED]")
	}
	// A pattern can eat the quoting around a value. Store the whole payload
	// as a JSON string then, so the entry stays one valid line.
	out := json.RawMessage(s)
	if !json.Valid(out) {
		quoted, _ := json.Marshal(s)
		return quoted
	}
	return out
}

// Query replays the log and returns matching entries in file order.
// Malformed lines are skipped so one bad write cannot wedge later reads.
func (a *Auditor) Query(ctx context.Context, f *AuditFilter) ([]*AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var entries []*AuditEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxAuditLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("Skipping malformed audit line", "line", lineNo, "error", err)
			continue
		}
		if f.matches(&e) {
			entries = append(entries, &e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	if f != nil && f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[len(entries)-f.Limit:]
	}
	return entries, nil
}

// CountSince reports how many allowed pre_tool_use entries the requester has
// accumulated for one tool since the given instant. Rate limits read the
// audit trail itself, so counts survive restarts.
func (a *Auditor) CountSince(ctx context.Context, project, tool, requester string, since time.Time) (int, error) {
	entries, err := a.Query(ctx, &AuditFilter{
		Project:   project,
		Requester: requester,
		Tool:      tool,
		Action:    ActionPreToolUse,
		Status:    StatusAllowed,
		Since:     since,
	})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
