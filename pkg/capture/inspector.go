// Package capture is the boundary to the event-capture subsystem. The
// engine core only needs a handle that syscall filter and formatter
// factories bind to; producing events is the capture driver's business.
package capture

import (
	"fmt"
	"strconv"
	"sync"
)

// Inspector is the live capture handle. An Inspector may be created on
// any thread, but field extraction runs only on the thread driving event
// evaluation, so no locking is needed on the extraction path. The handle
// must outlive every engine generation built against it.
type Inspector struct {
	driver string

	mu   sync.Mutex
	open bool
}

// New returns an inspector for the named capture driver.
func New(driver string) *Inspector {
	return &Inspector{driver: driver}
}

func (i *Inspector) Driver() string { return i.driver }

func (i *Inspector) Open() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.open {
		return fmt.Errorf("inspector %s already open", i.driver)
	}
	i.open = true
	return nil
}

func (i *Inspector) Close() {
	i.mu.Lock()
	i.open = false
	i.mu.Unlock()
}

// FieldValue extracts a dotted field from a capture event record.
// Records arrive either flat ("proc.name" as a literal key) or nested.
func (i *Inspector) FieldValue(event map[string]any, field string) (string, bool) {
	return LookupField(event, field)
}

// LookupField resolves a dotted field against a map-shaped event: the
// literal key wins, then nested traversal segment by segment.
func LookupField(event map[string]any, field string) (string, bool) {
	if v, ok := event[field]; ok {
		return stringify(v)
	}
	cur := any(event)
	rest := field
	for rest != "" {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		seg := rest
		if idx := indexDot(rest); idx >= 0 {
			seg, rest = rest[:idx], rest[idx+1:]
		} else {
			rest = ""
		}
		next, ok := m[seg]
		if !ok {
			return "", false
		}
		cur = next
	}
	return stringify(cur)
}

func indexDot(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case nil:
		return "", false
	default:
		return fmt.Sprintf("%v", t), true
	}
}
