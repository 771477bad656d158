package models

// Field is a single flat key/value pair transmitted to the remote endpoint.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Fields keeps record fields in insertion order; the wire format is flat.
type Fields []Field

// Get returns the value for key and whether it was present.
func (f Fields) Get(key string) (string, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return "", false
}

// With returns a copy of f where key is set to value, replacing an existing
// entry in place or appending a new one.
func (f Fields) With(key, value string) Fields {
	out := make(Fields, len(f), len(f)+1)
	copy(out, f)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Field{Key: key, Value: value})
}

// Keys lists field names in order.
func (f Fields) Keys() []string {
	keys := make([]string, len(f))
	for i, field := range f {
		keys[i] = field.Key
	}
	return keys
}

// SyncTask represents one queued attempt to persist a single attendance
// record remotely. Tasks are immutable once appended to the queue.
type SyncTask struct {
	ID        string `json:"id"`
	Data      Fields `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// Clone returns a deep copy so callers cannot mutate queued data.
func (t SyncTask) Clone() SyncTask {
	data := make(Fields, len(t.Data))
	copy(data, t.Data)
	t.Data = data
	return t
}
