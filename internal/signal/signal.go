package signal

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/fxd/internal/value"
	"github.com/roach88/fxd/internal/wal"
)

// ErrMalformed is returned when a record is not a signal envelope.
var ErrMalformed = errors.New("signal: malformed envelope")

// Signal is a change notification about one node.
type Signal struct {
	Seq       uint64
	Kind      Kind
	NodeID    string
	Timestamp time.Time
	Value     value.Value
}

// Envelope member keys.
const (
	keyNode  = "node"
	keyTime  = "ts"
	keyTag   = "tag"
	keyValue = "value"
)

// envelope is the persisted form: {node, ts, [tag], value}. The base kind
// travels as the record kind byte; ts is Unix nanoseconds.
func envelope(k Kind, nodeID string, ts time.Time, v value.Value) value.Object {
	obj := make(value.Object, 0, 4)
	obj = append(obj,
		value.M(keyNode, value.String(nodeID)),
		value.M(keyTime, value.Int(ts.UnixNano())))
	if k.Base == BaseCustom {
		obj = append(obj, value.M(keyTag, value.String(k.Tag)))
	}
	return append(obj, value.M(keyValue, v))
}

// normalizeTime drops the monotonic reading and location so a decoded
// timestamp equals the emitted one.
func normalizeTime(t time.Time) time.Time {
	return time.Unix(0, t.UnixNano()).UTC()
}

// Decode turns a log record into a Signal.
func Decode(rec wal.Record) (Signal, error) {
	v, err := rec.Value()
	if err != nil {
		return Signal{}, fmt.Errorf("signal: decode seq %d: %w", rec.Seq, err)
	}
	obj, ok := v.(value.Object)
	if !ok {
		return Signal{}, fmt.Errorf("%w: seq %d is %s, not object", ErrMalformed, rec.Seq, v.Kind())
	}

	sig := Signal{Seq: rec.Seq, Kind: Kind{Base: Base(rec.Kind)}}
	node, ok := obj.Get(keyNode)
	if s, isStr := node.(value.String); ok && isStr {
		sig.NodeID = string(s)
	} else {
		return Signal{}, fmt.Errorf("%w: seq %d has no node", ErrMalformed, rec.Seq)
	}
	ts, ok := obj.Get(keyTime)
	if n, isInt := ts.(value.Int); ok && isInt {
		sig.Timestamp = time.Unix(0, int64(n)).UTC()
	} else {
		return Signal{}, fmt.Errorf("%w: seq %d has no timestamp", ErrMalformed, rec.Seq)
	}
	if sig.Kind.Base == BaseCustom {
		tag, _ := obj.Get(keyTag)
		s, isStr := tag.(value.String)
		if !isStr {
			return Signal{}, fmt.Errorf("%w: seq %d custom kind without tag", ErrMalformed, rec.Seq)
		}
		sig.Kind.Tag = string(s)
	}
	if !sig.Kind.Valid() {
		return Signal{}, fmt.Errorf("%w: seq %d has kind %s", ErrMalformed, rec.Seq, sig.Kind)
	}
	payload, ok := obj.Get(keyValue)
	if !ok {
		return Signal{}, fmt.Errorf("%w: seq %d has no value", ErrMalformed, rec.Seq)
	}
	sig.Value = payload
	return sig, nil
}

// Filter selects signals. A nil field matches everything.
type Filter struct {
	Kind   *Kind
	NodeID *string
}

// MatchAll returns the empty filter.
func MatchAll() Filter { return Filter{} }

// ForKind matches one kind on any node.
func ForKind(k Kind) Filter { return Filter{Kind: &k} }

// ForNode matches any kind on one node.
func ForNode(id string) Filter { return Filter{NodeID: &id} }

// AndNode narrows f to one node.
func (f Filter) AndNode(id string) Filter {
	f.NodeID = &id
	return f
}

// AndKind narrows f to one kind.
func (f Filter) AndKind(k Kind) Filter {
	f.Kind = &k
	return f
}

// Matches reports whether s passes the filter.
func (f Filter) Matches(s Signal) bool {
	if f.Kind != nil && *f.Kind != s.Kind {
		return false
	}
	if f.NodeID != nil && *f.NodeID != s.NodeID {
		return false
	}
	return true
}

func (f Filter) String() string {
	kind, node := "*", "*"
	if f.Kind != nil {
		kind = f.Kind.String()
	}
	if f.NodeID != nil {
		node = *f.NodeID
	}
	return "kind=" + kind + " node=" + node
}

// Mutation is a change reported by the node graph.
type Mutation struct {
	Kind   Kind
	NodeID string
	Value  value.Value
}
