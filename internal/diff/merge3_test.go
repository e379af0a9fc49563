package diff

import (
	"strings"
	"testing"
)

func TestMerge3(t *testing.T) {
	t.Parallel()

	base := numbered(20)
	tests := []struct {
		name          string
		ours, theirs  []string
		want          []string
		wantConflicts int
	}{
		{
			name:   "disjoint edits",
			ours:   replace(base, 2, "ours\n"),
			theirs: replace(base, 15, "theirs\n"),
			want:   replace(replace(base, 2, "ours\n"), 15, "theirs\n"),
		},
		{
			name:   "identical edits",
			ours:   replace(base, 7, "same\n"),
			theirs: replace(base, 7, "same\n"),
			want:   replace(base, 7, "same\n"),
		},
		{
			name:   "only theirs changed",
			ours:   base,
			theirs: append(append([]string(nil), base...), "appended\n"),
			want:   append(append([]string(nil), base...), "appended\n"),
		},
		{
			name:          "same line",
			ours:          replace(base, 9, "left\n"),
			theirs:        replace(base, 9, "right\n"),
			wantConflicts: 1,
			want: append(append(append([]string(nil), base[:9]...),
				"<<<<<<< ours\n", "left\n", "=======\n", "right\n", ">>>>>>> theirs\n"),
				base[10:]...),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := Merge3(join(base), join(tt.ours), join(tt.theirs), Labels{})
			if res.Conflicts != tt.wantConflicts {
				t.Fatalf("conflicts = %d, want %d", res.Conflicts, tt.wantConflicts)
			}
			if got, want := string(res.Content), string(join(tt.want)); got != want {
				t.Fatalf("content mismatch:\n%s\nwant:\n%s", got, want)
			}
		})
	}
}

func TestMerge3Labels(t *testing.T) {
	t.Parallel()

	res := Merge3([]byte("x"), []byte("a"), []byte("b"), Labels{Ours: "HEAD", Theirs: "origin/main"})
	if res.Clean() {
		t.Fatalf("expected a conflict")
	}
	got := string(res.Content)
	if !strings.HasPrefix(got, "<<<<<<< HEAD\na\n=======\nb\n>>>>>>> origin/main\n") {
		t.Fatalf("unexpected markers: %q", got)
	}
}
