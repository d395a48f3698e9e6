package codec

import (
	"bytes"
	"testing"
)

type record struct {
	Status int                 `msgpack:"s" cbor:"1,keyasint" json:"s"`
	Header map[string][]string `msgpack:"h" cbor:"2,keyasint" json:"h"`
	Body   []byte              `msgpack:"b" cbor:"3,keyasint" json:"b"`
}

func TestCodecs(t *testing.T) {
	det, err := NewCBOR[record](true)
	if err != nil {
		t.Fatalf("NewCBOR(true) error = %v", err)
	}
	fast, err := NewCBOR[record](false)
	if err != nil {
		t.Fatalf("NewCBOR(false) error = %v", err)
	}

	codecs := map[string]Codec[record]{
		"msgpack":    Msgpack[record]{},
		"json":       JSON[record]{},
		"cbor-det":   det,
		"cbor-unsrt": fast,
	}

	in := record{
		Status: 200,
		Header: map[string][]string{"Content-Type": {"application/json"}, "Etag": {`"v1"`}},
		Body:   []byte(`{"ok":true}`),
	}

	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			raw, err := c.Encode(in)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			out, err := c.Decode(raw)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if out.Status != in.Status || !bytes.Equal(out.Body, in.Body) || out.Header["Etag"][0] != `"v1"` {
				t.Errorf("Decode(Encode(x)) = %+v, want %+v", out, in)
			}
		})
	}
}

func TestDeterministicCBOR(t *testing.T) {
	c, err := NewCBOR[map[string]int](true)
	if err != nil {
		t.Fatalf("NewCBOR() error = %v", err)
	}
	a, _ := c.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	b, _ := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
	if !bytes.Equal(a, b) {
		t.Error("deterministic encoding should not depend on map order")
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := (Msgpack[record]{}).Decode([]byte{0xc1}); err == nil {
		t.Error("msgpack Decode() of garbage should fail")
	}
	if _, err := (JSON[record]{}).Decode([]byte("{")); err == nil {
		t.Error("json Decode() of garbage should fail")
	}
}
