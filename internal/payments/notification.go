package payments

import (
	"net/url"
	"strings"
)

type Field struct {
	Key   string
	Value string
}

// Notification is an inbound gateway callback, decoded from a form-encoded
// body with the original field order preserved. Order matters: providers
// that sign in submission order cannot be verified from an unordered map.
type Notification struct {
	fields []Field
	values map[string]string
}

// ParseNotification decodes a form-encoded body keeping field order. A body
// carrying the same key twice is rejected: a duplicate would let the keyed
// lookup disagree with the ordered pairs the signature covers, and no
// legitimate gateway sends one.
func ParseNotification(body []byte) (*Notification, error) {
	n := &Notification{values: make(map[string]string)}
	for _, pair := range strings.Split(string(body), "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, &FormatError{Field: rawKey, Value: rawValue}
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, &FormatError{Field: key, Value: rawValue}
		}
		if _, seen := n.values[key]; seen {
			return nil, &FormatError{Field: key, Value: "duplicate field"}
		}
		n.fields = append(n.fields, Field{Key: key, Value: value})
		n.values[key] = value
	}
	return n, nil
}

// NotificationFromFields builds a notification from already-ordered pairs.
// Later duplicates are dropped so the keyed view always matches the ordered
// one.
func NotificationFromFields(fields []Field) *Notification {
	n := &Notification{values: make(map[string]string, len(fields))}
	for _, f := range fields {
		if _, seen := n.values[f.Key]; seen {
			continue
		}
		n.fields = append(n.fields, f)
		n.values[f.Key] = f.Value
	}
	return n
}

func (n *Notification) Get(key string) string {
	return n.values[key]
}

func (n *Notification) Has(key string) bool {
	_, ok := n.values[key]
	return ok
}

// Fields returns the pairs in received order.
func (n *Notification) Fields() []Field {
	return n.fields
}

// Encode renders the notification back to a form-encoded body in the
// received order, as required by server-side validation endpoints.
func (n *Notification) Encode() string {
	var b strings.Builder
	for i, f := range n.fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(f.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(f.Value))
	}
	return b.String()
}
