package message

import "testing"

func TestSplit(t *testing.T) {
	cases := []struct {
		in              string
		service, method string
		ok              bool
	}{
		{"Adder.Add", "Adder", "Add", true},
		{"Adder.add", "Adder", "add", true},
		{"a.b.c", "a", "b.c", true},
		{"NoSeparator", "", "", false},
		{".Add", "", "", false},
		{"Adder.", "", "", false},
	}
	for _, tc := range cases {
		req := &Request{ServiceMethod: tc.in}
		service, method, ok := req.Split()
		if service != tc.service || method != tc.method || ok != tc.ok {
			t.Errorf("Split(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, service, method, ok, tc.service, tc.method, tc.ok)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	cases := map[string]string{
		"Add":      "add",
		"add":      "add",
		"Multiply": "multiply",
		"":         "",
		"X":        "x",
		"Über":     "über",
		"Ωmega":    "ωmega",
		"éclair":   "éclair",
	}
	for in, want := range cases {
		if got := NormalizeMethod(in); got != want {
			t.Errorf("NormalizeMethod(%q) = %q, want %q", in, got, want)
		}
	}
}
