package markdown

import "testing"

func TestComplete(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", true},
		{"plain prose", "hello world", true},
		{"balanced bold", "a **b** c", true},
		{"open bold", "a **b c", false},
		{"balanced inline code", "use `fmt.Println` here", true},
		{"open inline code", "use `fmt.Println here", false},
		{"closed fence", "```go\nfunc main() {}\n```", true},
		{"open fence", "```go\nfunc main() {", false},
		{"two fences", "```\na\n```\ntext\n```\nb\n```", true},
		{"fence plus stray backtick", "```\na\n``` and `", false},
		{"balanced but misnested still passes", "**bold ` mix** `", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Complete(tc.in); got != tc.want {
				t.Fatalf("Complete(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
