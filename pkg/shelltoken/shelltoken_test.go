package shelltoken_test

import (
	"reflect"
	"testing"

	"github.com/effigy/effigy/pkg/shelltoken"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"simple", "build --release", []string{"build", "--release"}},
		{"single quoted", `run 'hello world'`, []string{"run", "hello world"}},
		{"double quoted", `run "hello world"`, []string{"run", "hello world"}},
		{"escaped space", `run hello\ world`, []string{"run", "hello world"}},
		{"no expansion of glob", `build *.go`, []string{"build", "*.go"}},
		{"no expansion of var", `build $HOME`, []string{"build", "$HOME"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := shelltoken.Split(tt.in)
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplit_UnterminatedQuote(t *testing.T) {
	if _, err := shelltoken.Split(`run 'unterminated`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"has space", "'has space'"},
		{"", "''"},
		{"it's", `'it'\''s'`},
	}
	for _, tt := range tests {
		if got := shelltoken.Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuoteAll_RoundTrip(t *testing.T) {
	tokens := []string{"go", "test", "./...", "with space"}
	quoted := shelltoken.QuoteAll(tokens)
	got, err := shelltoken.Split(quoted)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !reflect.DeepEqual(got, tokens) {
		t.Errorf("round trip = %v, want %v", got, tokens)
	}
}
