package apiclient

import (
	"testing"
	"time"
)

type weekday int

func (w weekday) String() string { return [...]string{"sun", "mon", "tue"}[w] }

func TestFingerprintOrderIndependent(t *testing.T) {
	a := Fingerprint("/attendance", Params{"classId": 7, "date": "2024-05-02", "section": "b"})
	b := Fingerprint("/attendance", Params{"section": "b", "date": "2024-05-02", "classId": 7})
	if a != b {
		t.Errorf("fingerprints differ: %q vs %q", a, b)
	}
	if a != "/attendance?classId=7&date=2024-05-02&section=b" {
		t.Errorf("unexpected canonical form %q", a)
	}
}

func TestFingerprintDistinguishesRequests(t *testing.T) {
	cases := [][2]string{
		{Fingerprint("/x", Params{"a": 1}), Fingerprint("/x", Params{"a": 2})},
		{Fingerprint("/x", Params{"a": 1}), Fingerprint("/y", Params{"a": 1})},
		{Fingerprint("/x", Params{"a": []int{1, 2}}), Fingerprint("/x", Params{"a": []int{2, 1}})},
		{Fingerprint("/x", nil), Fingerprint("/x", Params{"a": ""})},
	}
	for i, c := range cases {
		if c[0] == c[1] {
			t.Errorf("case %d: expected different fingerprints, both %q", i, c[0])
		}
	}
}

func TestFingerprintEmptyParams(t *testing.T) {
	if got := Fingerprint("/homework", nil); got != "/homework" {
		t.Errorf("nil params: got %q", got)
	}
	if got := Fingerprint("  /homework ", Params{}); got != "/homework" {
		t.Errorf("empty params: got %q", got)
	}
	if got := Fingerprint("/homework", Params{"skip": nil}); got != "/homework" {
		t.Errorf("nil value should be dropped: got %q", got)
	}
}

func TestFingerprintMergesEndpointQuery(t *testing.T) {
	a := Fingerprint("/x?b=2", Params{"a": 1})
	b := Fingerprint("/x", Params{"b": 2, "a": 1})
	if a != b {
		t.Errorf("query on endpoint not merged: %q vs %q", a, b)
	}
}

func TestParamsFormatting(t *testing.T) {
	n := 5
	var nilPtr *int
	p := Params{
		"bool":   true,
		"float":  1.5,
		"int64":  int64(9),
		"ptr":    &n,
		"nilptr": nilPtr,
		"list":   []string{"b", "a"},
		"ints":   []int{3, 1},
		"day":    weekday(1),
		"bytes":  []byte("raw"),
		"dur":    2 * time.Second,
	}
	want := "bool=true&bytes=raw&day=mon&dur=2s&float=1.5&int64=9&ints=3&ints=1&list=b&list=a&ptr=5"
	if got := p.Encode(); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestEndpointPath(t *testing.T) {
	if got := endpointPath("/attendance?classId=1"); got != "/attendance" {
		t.Errorf("got %q", got)
	}
	if got := endpointPath(""); got != "/" {
		t.Errorf("got %q", got)
	}
}
