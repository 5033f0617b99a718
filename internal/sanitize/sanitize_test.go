package sanitize

import "testing"

func TestText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "url removed",
			in:   "See https://example.com/path?x=1 for details",
			want: "See for details",
		},
		{
			name: "fenced code removed across lines",
			in:   "Before ```go\nfmt.Println(1)\n``` after",
			want: "Before after",
		},
		{
			name: "inline code removed",
			in:   "Run `make build` now please",
			want: "Run now please",
		},
		{
			name: "symbols and emoji removed",
			in:   "Hello 🎤 world #1 & done!",
			want: "Hello world done!",
		},
		{
			name: "single characters dropped except I and a",
			in:   "I saw a b c x cat",
			want: "I saw a cat",
		},
		{
			name: "whitespace collapsed",
			in:   "  lots\t\tof \n\n space  ",
			want: "lots of space",
		},
		{
			name: "punctuation kept",
			in:   "Wait, really? Yes; it's fine: ok-ish.",
			want: "Wait, really? Yes; it's fine: ok-ish.",
		},
		{
			name: "accented letters kept",
			in:   "Café au lait is très bon",
			want: "Café au lait is très bon",
		},
		{
			name: "latin diacritics kept",
			in:   "Zürich naïve résumé here",
			want: "Zürich naïve résumé here",
		},
		{
			name: "cjk kept, fullwidth punctuation dropped",
			in:   "你好世界，今天天气很好",
			want: "你好世界今天天气很好",
		},
		{
			name: "vertical tab is whitespace",
			in:   "word\vword again here",
			want: "word word again here",
		},
		{
			name: "non-breaking and ideographic spaces collapsed",
			in:   "one\u00a0two\u3000three four",
			want: "one two three four",
		},
		{
			name: "single accented rune dropped",
			in:   "é voilà",
			want: "voilà",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Text(tc.in); got != tc.want {
				t.Fatalf("Text(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestTextIdempotent(t *testing.T) {
	inputs := []string{
		"Check http://a.b/c and `code` then ```x\ny``` and 🎉 party!",
		"I a A b  c   dd",
		"Plain sentence that should survive untouched.",
		"weird -- dashes ' quotes , commas",
		"Café au lait is très bon",
		"Zürich naïve résumé here",
		"你好世界，今天天气很好",
		"word\vword again here",
	}
	for _, in := range inputs {
		once := Text(in)
		if twice := Text(once); twice != once {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestQueueable(t *testing.T) {
	if Queueable("short") {
		t.Fatal("expected short text to be rejected")
	}
	if !Queueable("long enough") {
		t.Fatal("expected 11 chars to be accepted")
	}
	// Ten runes, thirty bytes.
	if !Queueable(Text("你好世界，今天天气很好")) {
		t.Fatal("expected ten CJK runes to be accepted")
	}
	// Nine runes but more than ten bytes.
	if Queueable("ééééééééé") {
		t.Fatal("expected nine runes to be rejected")
	}
}
