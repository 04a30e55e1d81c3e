package security

import "testing"

func TestSanitize_PlainTextUnchanged(t *testing.T) {
	sanitizer := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "英字", input: "Groceries", want: "Groceries"},
		{name: "ジョージア文字", input: "სამუშაო", want: "სამუშაო"},
		{name: "記号を保持する", input: "R&D, Q&A", want: "R&D, Q&A"},
		{name: "引用符を保持する", input: `Tom's "list"`, want: `Tom's "list"`},
		{name: "空文字列", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_StripsMarkup(t *testing.T) {
	sanitizer := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "scriptタグ", input: `<script>alert(1)</script>Buy milk`, want: "Buy milk"},
		{name: "太字タグ", input: `<b>Urgent</b> fix`, want: "Urgent fix"},
		{name: "イベント属性", input: `<img src=x onerror=alert(1)>Photo`, want: "Photo"},
		{name: "リンク", input: `<a href="javascript:alert(1)">click</a>`, want: "click"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_NormalizesWhitespace(t *testing.T) {
	sanitizer := NewNameSanitizer()

	if got := sanitizer.Sanitize("  Plan \t the\n\ntrip  "); got != "Plan the trip" {
		t.Errorf("got %q, want %q", got, "Plan the trip")
	}
	if got := sanitizer.Sanitize("a\x00b"); got != "a b" {
		t.Errorf("制御文字が除去されていません: %q", got)
	}
	if got := sanitizer.Sanitize("   "); got != "" {
		t.Errorf("空白のみの入力は空文字列になるべき: %q", got)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewNameSanitizer()

	inputs := []string{"<i>x</i> & y", "Q&amp;A", "  spaced   out "}
	for _, in := range inputs {
		once := sanitizer.Sanitize(in)
		twice := sanitizer.Sanitize(once)
		if once != twice {
			t.Errorf("冪等ではありません: %q -> %q -> %q", in, once, twice)
		}
	}
}
