package phase

import (
	"reflect"
	"testing"
)

func TestParseList(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    []Name
		wantErr bool
	}{
		{"empty selects default", "", DefaultList, false},
		{"whitespace selects default", "   ", DefaultList, false},
		{"explicit list", "plan,implement", []Name{Plan, Implement}, false},
		{"order preserved", "review,plan", []Name{Review, Plan}, false},
		{"spaces trimmed", " plan , review ", []Name{Plan, Review}, false},
		{"unknown phase", "plan,deploy", nil, true},
		{"fix is reserved", "plan,fix", nil, true},
		{"duplicate", "plan,plan", nil, true},
		{"only commas", ",,,", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseList(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseList(%q) succeeded, want error", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseList(%q): %v", tc.input, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseList(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestParseListDefaultIsACopy(t *testing.T) {
	got, err := ParseList("")
	if err != nil {
		t.Fatal(err)
	}
	got[0] = Review
	if DefaultList[0] != Plan {
		t.Error("ParseList returned the shared default slice")
	}
}

func TestMutatesWorkspace(t *testing.T) {
	for _, n := range []Name{GenerateTests, Implement, UITest, Fix} {
		if !n.MutatesWorkspace() {
			t.Errorf("%s should mutate the workspace", n)
		}
	}
	// Planning-only phases never touch files.
	for _, n := range []Name{Plan, Review} {
		if n.MutatesWorkspace() {
			t.Errorf("%s should not mutate the workspace", n)
		}
	}
}

func TestIterationCaps(t *testing.T) {
	caps := DefaultCaps()
	if got := caps.For(Implement); got != 3 {
		t.Errorf("implementation cap = %d, want 3", got)
	}
	if got := caps.For(Review); got != 2 {
		t.Errorf("review cap = %d, want 2", got)
	}
	if got := caps.For(Fix); got != 3 {
		t.Errorf("fix shares the implementation cap, got %d", got)
	}
}

func TestClassAndDisplay(t *testing.T) {
	if Review.Class() != ClassReview {
		t.Errorf("review class = %s", Review.Class())
	}
	if Implement.Class() != ClassImplementation {
		t.Errorf("implement class = %s", Implement.Class())
	}
	if Review.Display() != "Review" || GenerateTests.Display() != "Generate Tests" {
		t.Error("unexpected display labels")
	}
	if Name("deploy").Valid() {
		t.Error("unknown name reported valid")
	}
}
