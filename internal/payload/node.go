// Package payload models scrape results as a schema-free document tree and
// pulls image references out of it.
//
// Scrape providers return whatever their remote job produced. Rather than
// decoding into typed structs that only fit one provider, results are kept as
// a Node tree whose mapping keys retain document order, so every walk over the
// tree is deterministic.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Kind tags the variant held by a Node.
type Kind int

const (
	Null Kind = iota
	String
	Number
	Bool
	Map
	Seq
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Map:
		return "map"
	case Seq:
		return "seq"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Node is one value in a payload tree.
type Node struct {
	Kind Kind
	// Scalar holds the text of String and Number nodes.
	Scalar string
	Bool   bool
	// Keys lists mapping keys in document order. A repeated key keeps its
	// first position and its last value.
	Keys   []string
	Fields map[string]*Node
	Items  []*Node
}

// Get returns the value under key, or nil when n is not a mapping or lacks it.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Kind != Map {
		return nil
	}
	return n.Fields[key]
}

// Len returns the number of items or fields.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	switch n.Kind {
	case Map:
		return len(n.Keys)
	case Seq:
		return len(n.Items)
	}
	return 0
}

// IsEmpty reports whether n carries nothing worth scanning.
func (n *Node) IsEmpty() bool {
	return n == nil || n.Kind == Null || ((n.Kind == Map || n.Kind == Seq) && n.Len() == 0)
}

// Parse decodes a JSON document into a Node tree.
func Parse(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	n, err := decode(dec)
	if err != nil {
		return nil, fmt.Errorf("context: parse payload: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("context: parse payload: trailing data after document")
	}
	return n, nil
}

func decode(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			n := &Node{Kind: Map, Fields: make(map[string]*Node)}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected key token %v", kt)
				}
				child, err := decode(dec)
				if err != nil {
					return nil, err
				}
				if _, seen := n.Fields[key]; !seen {
					n.Keys = append(n.Keys, key)
				}
				n.Fields[key] = child
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		case '[':
			n := &Node{Kind: Seq}
			for dec.More() {
				child, err := decode(dec)
				if err != nil {
					return nil, err
				}
				n.Items = append(n.Items, child)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return n, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", v)
	case string:
		return &Node{Kind: String, Scalar: v}, nil
	case json.Number:
		return &Node{Kind: Number, Scalar: v.String()}, nil
	case bool:
		return &Node{Kind: Bool, Bool: v}, nil
	case nil:
		return &Node{Kind: Null}, nil
	}
	return nil, fmt.Errorf("unexpected token %T", tok)
}

// MarshalJSON renders the tree back to JSON, keeping key order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) encode(buf *bytes.Buffer) error {
	if n == nil {
		buf.WriteString("null")
		return nil
	}
	switch n.Kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		if n.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Number:
		buf.WriteString(n.Scalar)
	case String:
		b, err := json.Marshal(n.Scalar)
		if err != nil {
			return err
		}
		buf.Write(b)
	case Seq:
		buf.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Map:
		buf.WriteByte('{')
		for i, k := range n.Keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(b)
			buf.WriteByte(':')
			if err := n.Fields[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("context: unknown node kind %v", n.Kind)
	}
	return nil
}
