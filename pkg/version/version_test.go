package version

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"1.2.3", false},
		{"1.0", false},
		{"1.2.3-beta.1", false},
		{"1.2.3.4", false},
		{"", true},
		{"not-a-version", true},
	}

	for _, tt := range tests {
		_, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0.0.1", "1.0.0", 1},
		{"1.0.0.1", "1.0.0.2", -1},
		{"1.0.0-alpha", "1.0.0", -1},
	}

	for _, tt := range tests {
		got := MustParse(tt.a).Compare(MustParse(tt.b))
		if got != tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		spec    string
		version string
		want    bool
	}{
		// Minimum version.
		{"1.0.0", "1.0.0", true},
		{"1.0.0", "2.5.0", true},
		{"1.0.0", "0.9.0", false},

		// Exact version.
		{"[1.2.3]", "1.2.3", true},
		{"[1.2.3]", "1.2.4", false},

		// Half-open interval.
		{"[1.0.0,2.0.0)", "1.0.0", true},
		{"[1.0.0,2.0.0)", "1.5.0", true},
		{"[1.0.0,2.0.0)", "2.0.0", false},
		{"(1.0.0,2.0.0]", "1.0.0", false},
		{"(1.0.0,2.0.0]", "2.0.0", true},

		// Unbounded sides.
		{"[1.0.0,)", "99.0.0", true},
		{"[1.0.0,)", "0.1.0", false},
		{"(,2.0.0]", "2.0.0", true},
		{"(,2.0.0]", "2.0.1", false},
	}

	for _, tt := range tests {
		r, err := ParseRange(tt.spec)
		if err != nil {
			t.Fatalf("ParseRange(%q): %v", tt.spec, err)
		}
		if got := r.Satisfies(MustParse(tt.version)); got != tt.want {
			t.Errorf("%q.Satisfies(%s) = %v, want %v", tt.spec, tt.version, got, tt.want)
		}
	}
}

func TestParseRangeInvalid(t *testing.T) {
	for _, spec := range []string{"", "[,]", "(1.0.0)", "[abc]", "[1.0.0,2.0.0"} {
		if _, err := ParseRange(spec); err == nil {
			t.Errorf("ParseRange(%q) succeeded, want error", spec)
		}
	}
}

func TestHighestSatisfying(t *testing.T) {
	versions := []Version{
		MustParse("1.1.0"),
		MustParse("1.5.0"),
		MustParse("2.1.0"),
		MustParse("0.9.0"),
	}

	r := MustParseRange("[1.0.0,2.0.0)")
	got, ok := HighestSatisfying(versions, r)
	if !ok || got.String() != "1.5.0" {
		t.Fatalf("HighestSatisfying = %v, %v; want 1.5.0, true", got, ok)
	}

	none := MustParseRange("[3.0.0,)")
	if _, ok := HighestSatisfying(versions, none); ok {
		t.Fatal("HighestSatisfying matched a version outside the range")
	}
}
