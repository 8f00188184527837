package chain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/sugawarayuuta/sonnet"
)

/*
 * Minimal event ABI support.
 *
 * Only what log decoding needs: parse the JSON ABI, build the canonical
 * signature `Name(type1,...)`, hash it into topic0, and decode arguments.
 * Indexed arguments come from topics[1:]; dynamic indexed values are stored
 * on chain as their hash, so they decode to that hash. Non-indexed arguments
 * follow the head/tail layout of the data section.
 *
 * Supported: uint<N>, int<N>, address, bool, bytes<N>, bytes, string, and
 * dynamic arrays T[] of the static ones. Tuples and fixed arrays are
 * rejected at parse time rather than mis-decoded at runtime.
 */

const wordSize = 32

// EventArg is one event input.
type EventArg struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed"`
}

// Event is a parsed event definition.
type Event struct {
	Name      string
	Inputs    []EventArg
	Anonymous bool
	Signature string
	Topic     string // 0x-prefixed keccak256 of Signature
}

type abiEntry struct {
	Type      string     `json:"type"`
	Name      string     `json:"name"`
	Inputs    []EventArg `json:"inputs"`
	Anonymous bool       `json:"anonymous"`
}

// ParseEvent finds eventName in a JSON ABI. The ABI may be a full array or
// a single event object.
func ParseEvent(abiJSON, eventName string) (*Event, error) {
	trimmed := strings.TrimSpace(abiJSON)
	var entries []abiEntry
	if strings.HasPrefix(trimmed, "{") {
		var single abiEntry
		if err := sonnet.Unmarshal([]byte(trimmed), &single); err != nil {
			return nil, fmt.Errorf("parse ABI: %w", err)
		}
		entries = []abiEntry{single}
	} else if err := sonnet.Unmarshal([]byte(trimmed), &entries); err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}

	for _, e := range entries {
		if e.Type != "event" || e.Name != eventName {
			continue
		}
		typeNames := make([]string, len(e.Inputs))
		for i, in := range e.Inputs {
			if err := checkSupported(in.Type); err != nil {
				return nil, fmt.Errorf("event %s input %q: %w", eventName, in.Name, err)
			}
			typeNames[i] = in.Type
		}
		sig := e.Name + "(" + strings.Join(typeNames, ",") + ")"
		return &Event{
			Name:      e.Name,
			Inputs:    e.Inputs,
			Anonymous: e.Anonymous,
			Signature: sig,
			Topic:     encodeHex(Keccak256([]byte(sig))),
		}, nil
	}
	return nil, fmt.Errorf("event %q not found in ABI", eventName)
}

// Decode extracts every named argument of the event from a log.
func (e *Event) Decode(topics []string, data string) (map[string]any, error) {
	offset := 1
	if e.Anonymous {
		offset = 0
	} else if len(topics) == 0 || !strings.EqualFold(topics[0], e.Topic) {
		return nil, fmt.Errorf("log topic does not match %s", e.Signature)
	}

	raw, err := decodeHex(data)
	if err != nil {
		return nil, fmt.Errorf("log data: %w", err)
	}

	out := make(map[string]any, len(e.Inputs))
	head := 0
	for i, in := range e.Inputs {
		name := in.Name
		if name == "" {
			name = strconv.Itoa(i)
		}
		if in.Indexed {
			if offset >= len(topics) {
				return nil, fmt.Errorf("missing topic for indexed argument %q", name)
			}
			word, err := decodeHex(topics[offset])
			if err != nil || len(word) != wordSize {
				return nil, fmt.Errorf("malformed topic for %q", name)
			}
			offset++
			if isDynamic(in.Type) {
				out[name] = encodeHex(word)
				continue
			}
			v, err := decodeWord(in.Type, word)
			if err != nil {
				return nil, fmt.Errorf("argument %q: %w", name, err)
			}
			out[name] = v
			continue
		}

		v, err := decodeHead(in.Type, raw, head)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", name, err)
		}
		out[name] = v
		head += wordSize
	}
	return out, nil
}

func decodeHead(typ string, data []byte, pos int) (any, error) {
	word, err := wordAt(data, pos)
	if err != nil {
		return nil, err
	}
	if !isDynamic(typ) {
		return decodeWord(typ, word)
	}

	start, err := smallInt(word)
	if err != nil {
		return nil, err
	}
	lenWord, err := wordAt(data, start)
	if err != nil {
		return nil, err
	}
	n, err := smallInt(lenWord)
	if err != nil {
		return nil, err
	}
	body := start + wordSize

	switch {
	case typ == "string" || typ == "bytes":
		if n > len(data)-body {
			return nil, fmt.Errorf("%s length %d exceeds data", typ, n)
		}
		b := data[body : body+n]
		if typ == "string" {
			return string(b), nil
		}
		return encodeHex(b), nil
	case strings.HasSuffix(typ, "[]"):
		elem := strings.TrimSuffix(typ, "[]")
		if n > (len(data)-body)/wordSize {
			return nil, fmt.Errorf("%s length %d exceeds data", typ, n)
		}
		out := make([]any, n)
		for i := range out {
			w, err := wordAt(data, body+i*wordSize)
			if err != nil {
				return nil, err
			}
			if out[i], err = decodeWord(elem, w); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported dynamic type %s", typ)
}

func decodeWord(typ string, word []byte) (any, error) {
	switch {
	case typ == "address":
		return ChecksumAddress(word[12:]), nil
	case typ == "bool":
		return word[wordSize-1] != 0, nil
	case strings.HasPrefix(typ, "uint"):
		return new(big.Int).SetBytes(word), nil
	case strings.HasPrefix(typ, "int"):
		v := new(big.Int).SetBytes(word)
		if word[0]&0x80 != 0 {
			v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 8*wordSize))
		}
		return v, nil
	case strings.HasPrefix(typ, "bytes"):
		n, err := strconv.Atoi(strings.TrimPrefix(typ, "bytes"))
		if err != nil || n < 1 || n > wordSize {
			return nil, fmt.Errorf("invalid type %s", typ)
		}
		return encodeHex(word[:n]), nil
	}
	return nil, fmt.Errorf("unsupported type %s", typ)
}

func checkSupported(typ string) error {
	if strings.HasSuffix(typ, "[]") {
		elem := strings.TrimSuffix(typ, "[]")
		if isDynamic(elem) {
			return fmt.Errorf("unsupported type %s", typ)
		}
		typ = elem
	}
	switch {
	case typ == "address", typ == "bool", typ == "string", typ == "bytes":
		return nil
	case strings.HasPrefix(typ, "uint"), strings.HasPrefix(typ, "int"), strings.HasPrefix(typ, "bytes"):
		if strings.ContainsAny(typ, "[(") {
			return fmt.Errorf("unsupported type %s", typ)
		}
		return nil
	}
	return fmt.Errorf("unsupported type %s", typ)
}

func isDynamic(typ string) bool {
	return typ == "string" || typ == "bytes" || strings.HasSuffix(typ, "[]")
}

func wordAt(data []byte, pos int) ([]byte, error) {
	if pos < 0 || pos+wordSize > len(data) {
		return nil, fmt.Errorf("offset %d out of range (%d bytes)", pos, len(data))
	}
	return data[pos : pos+wordSize], nil
}

// smallInt reads a word that must fit an int (offsets and lengths).
func smallInt(word []byte) (int, error) {
	v := new(big.Int).SetBytes(word)
	if !v.IsInt64() || v.Int64() > 1<<31 {
		return 0, fmt.Errorf("offset or length %s too large", v)
	}
	return int(v.Int64()), nil
}
