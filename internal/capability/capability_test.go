package capability

import "testing"

func TestMatches(t *testing.T) {
	cases := []struct {
		name  string
		query Query
		offer Offer
		want  bool
	}{
		{"empty query matches anything", Query{}, Offer{"type": "chat"}, true},
		{"exact subset matches", Query{"type": "embed"}, Offer{"type": "embed", "model": "bge"}, true},
		{"missing key fails", Query{"type": "embed", "gpu": "true"}, Offer{"type": "embed"}, false},
		{"mismatched value fails", Query{"type": "chat"}, Offer{"type": "embed"}, false},
		{"extra offer keys ignored", Query{"type": "chat"}, Offer{"type": "chat", "region": "us"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(tc.query, tc.offer); got != tc.want {
				t.Errorf("Matches(%v, %v) = %v, want %v", tc.query, tc.offer, got, tc.want)
			}
		})
	}
}

func TestFromModelKey(t *testing.T) {
	q := FromModelKey("classifier", "")
	if _, ok := q["version"]; ok {
		t.Error("expected empty version to be omitted from query")
	}
	if q["name"] != "classifier" {
		t.Errorf("name = %q, want classifier", q["name"])
	}

	q2 := FromModelKey("classifier", "v1")
	if q2["version"] != "v1" {
		t.Errorf("version = %q, want v1", q2["version"])
	}
}

func TestOfferFromModelKeyMatchesFallback(t *testing.T) {
	// Worker registers ("classifier", "") -- offer has no version key.
	offer := OfferFromModelKey("classifier", "")
	// Client looks up ("classifier", "v1") -- this is registry-level
	// fallback, handled in the registry package, not here. At the
	// capability-matching level, an explicit version query would NOT match
	// a versionless offer, since offer lacks the "version" key entirely.
	query := FromModelKey("classifier", "v1")
	if Matches(query, offer) {
		t.Error("expected versioned query not to match versionless offer at the capability-matching level")
	}
}
