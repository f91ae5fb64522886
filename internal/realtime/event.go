package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	Insert EventType = "insert"
	Update EventType = "update"
	Delete EventType = "delete"
)

// ChangeEvent — одно изменение строки, как его присылает триггер notify_table_change.
type ChangeEvent struct {
	Table      string         `json:"table"`
	Type       EventType      `json:"type"`
	Record     map[string]any `json:"record,omitempty"`
	OldRecord  map[string]any `json:"old_record,omitempty"`
	CommitTime time.Time      `json:"commit_timestamp"`
	// Truncated — тело записи не влезло в NOTIFY, фильтр проверить нельзя
	Truncated bool `json:"truncated,omitempty"`
}

func ParseEvent(payload []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode change event: %w", err)
	}
	ev.Type = EventType(strings.ToLower(string(ev.Type)))
	switch ev.Type {
	case Insert, Update, Delete:
	default:
		return ev, fmt.Errorf("change event: unknown type %q", ev.Type)
	}
	if ev.Table == "" {
		return ev, fmt.Errorf("change event: empty table")
	}
	return ev, nil
}

// Filter — предикат вида "recipient_id=eq.<value>". Пустой фильтр пропускает всё.
type Filter struct {
	Column string
	Value  string
}

func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Filter{}, nil
	}
	col, rest, ok := strings.Cut(s, "=")
	if !ok {
		return Filter{}, fmt.Errorf("filter %q: expected column=eq.value", s)
	}
	val, ok := strings.CutPrefix(rest, "eq.")
	col = strings.TrimSpace(col)
	if !ok || col == "" {
		return Filter{}, fmt.Errorf("filter %q: only column=eq.value is supported", s)
	}
	return Filter{Column: col, Value: val}, nil
}

// Eq — фильтр равенства без разбора строки.
func Eq(column, value string) Filter { return Filter{Column: column, Value: value} }

func (f Filter) IsZero() bool { return f.Column == "" }

func (f Filter) String() string {
	if f.IsZero() {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// Matches проверяет новую запись, для delete — старую, а для update — обе:
// строка, ушедшая из-под фильтра, тоже его касается.
// Урезанные события пропускаются: лишняя инвалидация безопаснее пропущенной.
func (f Filter) Matches(ev ChangeEvent) bool {
	if f.IsZero() || ev.Truncated {
		return true
	}
	switch {
	case ev.Type == Delete || ev.Record == nil:
		return f.matchRecord(ev.OldRecord)
	case ev.Type == Update:
		return f.matchRecord(ev.Record) || f.matchRecord(ev.OldRecord)
	default:
		return f.matchRecord(ev.Record)
	}
}

func (f Filter) matchRecord(rec map[string]any) bool {
	v, ok := rec[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}
