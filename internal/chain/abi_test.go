package chain

import (
	"math/big"
	"reflect"
	"strings"
	"testing"
)

const erc20ABI = `[
  {"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}]},
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}]}
]`

func word(v int64) string {
	b := big.NewInt(v)
	if v < 0 {
		b.Add(b, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	s := b.Text(16)
	return strings.Repeat("0", 64-len(s)) + s
}

func padRight(s string) string {
	h := ""
	for _, c := range []byte(s) {
		h += string("0123456789abcdef"[c>>4]) + string("0123456789abcdef"[c&0xf])
	}
	if rem := len(h) % 64; rem != 0 {
		h += strings.Repeat("0", 64-rem)
	}
	return h
}

func addressTopic(addr string) string {
	return "0x" + strings.Repeat("0", 24) + strings.ToLower(strings.TrimPrefix(addr, "0x"))
}

func TestParseEvent_Topic(t *testing.T) {
	ev, err := ParseEvent(erc20ABI, "Transfer")
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.Signature != "Transfer(address,address,uint256)" {
		t.Errorf("Signature = %s", ev.Signature)
	}
	const want = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	if ev.Topic != want {
		t.Errorf("Topic = %s, want %s", ev.Topic, want)
	}
}

func TestParseEvent_Errors(t *testing.T) {
	tests := []struct {
		name  string
		abi   string
		event string
	}{
		{"not json", `{{`, "Transfer"},
		{"missing event", erc20ABI, "Approval"},
		{"function is not an event", erc20ABI, "transfer"},
		{"tuple input", `{"type":"event","name":"X","inputs":[{"name":"t","type":"tuple"}]}`, "X"},
		{"fixed array input", `{"type":"event","name":"X","inputs":[{"name":"a","type":"uint256[2]"}]}`, "X"},
		{"nested dynamic array", `{"type":"event","name":"X","inputs":[{"name":"a","type":"string[]"}]}`, "X"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEvent(tt.abi, tt.event); err == nil {
				t.Error("ParseEvent() expected error")
			}
		})
	}
}

func TestDecode_Transfer(t *testing.T) {
	ev, err := ParseEvent(erc20ABI, "Transfer")
	if err != nil {
		t.Fatal(err)
	}

	from := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	to := "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	topics := []string{ev.Topic, addressTopic(from), addressTopic(to)}

	got, err := ev.Decode(topics, "0x"+word(1000))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got["from"] != from || got["to"] != to {
		t.Errorf("addresses = %v, %v", got["from"], got["to"])
	}
	if v, ok := got["value"].(*big.Int); !ok || v.Int64() != 1000 {
		t.Errorf("value = %#v, want 1000", got["value"])
	}
}

func TestDecode_DynamicLayout(t *testing.T) {
	const abi = `{"type":"event","name":"Note","inputs":[
	  {"name":"text","type":"string"},
	  {"name":"values","type":"uint256[]"},
	  {"name":"delta","type":"int256"},
	  {"name":"ok","type":"bool"},
	  {"name":"tag","type":"bytes4"}]}`
	ev, err := ParseEvent(abi, "Note")
	if err != nil {
		t.Fatal(err)
	}

	// Head: 5 words (0xa0 bytes). text at 0xa0, values at 0xe0.
	data := "0x" +
		word(0xa0) + word(0xe0) + word(-1) + word(1) +
		"deadbeef" + strings.Repeat("0", 56) +
		word(5) + padRight("hello") +
		word(2) + word(7) + word(9)

	got, err := ev.Decode([]string{ev.Topic}, data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got["text"] != "hello" {
		t.Errorf("text = %#v", got["text"])
	}
	vals, ok := got["values"].([]any)
	if !ok || len(vals) != 2 || vals[0].(*big.Int).Int64() != 7 || vals[1].(*big.Int).Int64() != 9 {
		t.Errorf("values = %#v", got["values"])
	}
	if d := got["delta"].(*big.Int); d.Int64() != -1 {
		t.Errorf("delta = %s, want -1", d)
	}
	if got["ok"] != true {
		t.Errorf("ok = %#v", got["ok"])
	}
	if got["tag"] != "0xdeadbeef" {
		t.Errorf("tag = %#v", got["tag"])
	}
}

func TestDecode_IndexedDynamicIsHash(t *testing.T) {
	const abi = `{"type":"event","name":"Named","inputs":[{"name":"label","type":"string","indexed":true}]}`
	ev, err := ParseEvent(abi, "Named")
	if err != nil {
		t.Fatal(err)
	}
	hash := encodeHex(Keccak256([]byte("alice")))
	got, err := ev.Decode([]string{ev.Topic, hash}, "0x")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"label": hash}) {
		t.Errorf("Decode() = %#v", got)
	}
}

func TestDecode_Errors(t *testing.T) {
	ev, err := ParseEvent(erc20ABI, "Transfer")
	if err != nil {
		t.Fatal(err)
	}
	other := encodeHex(Keccak256([]byte("Approval(address,address,uint256)")))
	from := addressTopic("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")

	tests := []struct {
		name   string
		topics []string
		data   string
	}{
		{"wrong topic0", []string{other, from, from}, "0x" + word(1)},
		{"no topics", nil, "0x" + word(1)},
		{"missing indexed topic", []string{ev.Topic, from}, "0x" + word(1)},
		{"short data", []string{ev.Topic, from, from}, "0x01"},
		{"bad hex", []string{ev.Topic, from, from}, "0xzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ev.Decode(tt.topics, tt.data); err == nil {
				t.Error("Decode() expected error")
			}
		})
	}
}

func TestDecode_OversizedLength(t *testing.T) {
	const abi = `{"type":"event","name":"E","inputs":[
	  {"name":"values","type":"uint256[]"},
	  {"name":"text","type":"string"}]}`
	ev, err := ParseEvent(abi, "E")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data string
	}{
		{"array length", "0x" + word(0x40) + word(0x60) + word(0x7fffffff) + word(0)},
		{"array one past data", "0x" + word(0x40) + word(0x60) + word(2) + word(1)},
		{"string length", "0x" + word(0x40) + word(0x60) + word(0) + word(0x7fffffff)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ev.Decode([]string{ev.Topic}, tt.data); err == nil {
				t.Error("Decode() expected error")
			}
		})
	}
}
