package main

import (
	"testing"
)

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("port = %d, want default 8080", w.port())
	}
}

func TestWebPortFlag_CustomPort(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set("8980"); err != nil {
		t.Fatalf("Set(\"8980\") error: %v", err)
	}
	if w.port() != 8980 {
		t.Errorf("port = %d, want 8980", w.port())
	}
}

func TestWebPortFlag_Unset(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if w.port() != 0 {
		t.Errorf("port = %d, want 0 when flag absent", w.port())
	}
	if w.String() != "0" {
		t.Errorf("String() = %q, want \"0\"", w.String())
	}
}

func TestWebPortFlag_Invalid(t *testing.T) {
	cases := []string{"not-a-number", "-1", "0", "65536", "8080.5"}
	for _, s := range cases {
		w := &webPortFlag{defaultPort: 8080}
		if err := w.Set(s); err == nil {
			t.Errorf("Set(%q): expected error, got nil", s)
		}
	}
}

func TestWebPortFlag_BoundaryPorts(t *testing.T) {
	for _, s := range []string{"1", "65535"} {
		w := &webPortFlag{defaultPort: 8080}
		if err := w.Set(s); err != nil {
			t.Errorf("Set(%q): unexpected error: %v", s, err)
		}
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set("9000"); err != nil {
		t.Fatal(err)
	}
	if w.String() != "9000" {
		t.Errorf("String() = %q, want \"9000\"", w.String())
	}
}
