package retrieval

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"basic", "Fix the Postgres connection pool", []string{"fix", "postgres", "connection", "pool"}},
		{"stop words dropped", "what is the meaning of this", []string{"meaning"}},
		{"single chars dropped", "a b c go", []string{"go"}},
		{"punctuation splits", "retry-after: 30s", []string{"retry", "after", "30s"}},
		{"cjk per rune", "部署 redis", []string{"部", "署", "redis"}},
		{"empty", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestOverlap(t *testing.T) {
	doc := TokenSet("postgres pool tuning notes")
	if got := Overlap([]string{"postgres", "pool"}, doc); got != 1 {
		t.Errorf("full overlap = %v, want 1", got)
	}
	if got := Overlap([]string{"postgres", "redis"}, doc); got != 0.5 {
		t.Errorf("half overlap = %v, want 0.5", got)
	}
	if got := Overlap(nil, doc); got != 0 {
		t.Errorf("empty query overlap = %v, want 0", got)
	}
}

func TestJaccard(t *testing.T) {
	a := TokenSet("alpha beta gamma")
	b := TokenSet("beta gamma delta")
	got := Jaccard(a, b)
	if got < 0.49 || got > 0.51 {
		t.Errorf("jaccard = %v, want 0.5", got)
	}
	if Jaccard(a, a) != 1 {
		t.Error("self jaccard should be 1")
	}
	if Jaccard(nil, nil) != 0 {
		t.Error("empty jaccard should be 0")
	}
}

func TestJaccardSlices(t *testing.T) {
	if got := JaccardSlices([]string{"db", "infra"}, []string{"db"}); got != 0.5 {
		t.Errorf("jaccard slices = %v, want 0.5", got)
	}
}

func TestClassifyRoute(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"how do I configure the daemon", "procedural"},
		{"what happened last session", "episodic"},
		{"why did we pick sqlite", "semantic"},
		{"postgres pool", "general"},
	}
	for _, tt := range tests {
		if got := string(ClassifyRoute(tt.query)); got != tt.want {
			t.Errorf("ClassifyRoute(%q) = %s, want %s", tt.query, got, tt.want)
		}
	}
}
