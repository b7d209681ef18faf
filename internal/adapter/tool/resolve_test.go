package tool

import (
	"testing"

	"kilo-brain/internal/domain"
)

var testMeds = []domain.Medication{
	{ID: "1", Name: "Aspirin"},
	{ID: "2", Name: "Vitamin D"},
	{ID: "3", Name: "Vitamin B12"},
}

func names(ms []domain.Medication) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out
}

func TestResolveByName(t *testing.T) {
	tests := []struct {
		query      string
		wantNames  []string
		wantOthers int
	}{
		{"aspirin", []string{"Aspirin"}, 0},
		{"ASPIRIN", []string{"Aspirin"}, 0},
		{"all", []string{"Aspirin", "Vitamin D", "Vitamin B12"}, 0},
		{"vitamin", []string{"Vitamin D"}, 1},
		{"my aspirin pill", []string{"Aspirin"}, 0},
		{"aspirn", []string{"Aspirin"}, 0},
		{"aspirni", []string{"Aspirin"}, 0},
		{"vitamni d", []string{"Vitamin D"}, 0},
		{"aspn", nil, 0},
		{"vitamin e", nil, 0},
		{"nonexistent", nil, 0},
		{"", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := resolveByName(testMeds, medName, tt.query)
			got := names(res.Matches)
			if len(got) != len(tt.wantNames) {
				t.Fatalf("matches = %v, want %v", got, tt.wantNames)
			}
			for i := range got {
				if got[i] != tt.wantNames[i] {
					t.Errorf("match[%d] = %q, want %q", i, got[i], tt.wantNames[i])
				}
			}
			if len(res.Others) != tt.wantOthers {
				t.Errorf("others = %v", res.Others)
			}
		})
	}
}

func TestResolveExactBeatsSubstring(t *testing.T) {
	meds := []domain.Medication{{ID: "1", Name: "Vitamin D3"}, {ID: "2", Name: "Vitamin D"}}
	res := resolveByName(meds, medName, "vitamin d")
	if len(res.Matches) != 1 || res.Matches[0].ID != "2" {
		t.Errorf("matches = %+v, want exact Vitamin D", res.Matches)
	}
}

func TestNotFoundErrorListsNames(t *testing.T) {
	err := notFoundError("Medication", "xyz", testMeds, medName)
	want := "Medication 'xyz' not found. Available: Aspirin, Vitamin D, Vitamin B12"
	if err.Error() != want {
		t.Errorf("got %q\nwant %q", err.Error(), want)
	}
}
