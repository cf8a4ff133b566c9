package rules

import (
	"net/netip"
	"testing"
)

func TestEngineEmptyNeverMatches(t *testing.T) {
	e, err := Compile(nil)
	if err != nil {
		t.Fatal(err)
	}
	r, err := e.Evaluate(Facts{Domain: "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Error("expected no match on empty engine")
	}
}

func TestEngineMatchesFirstRule(t *testing.T) {
	e, err := Compile([]Rule{
		{Expr: `Domain == "blocked.example."`, Action: ActionServFail},
		{Expr: `MatchSuffix(Domain, ".corp.internal.")`, Action: ActionLocal,
			LocalIP: netip.MustParseAddr("10.0.0.1")},
	})
	if err != nil {
		t.Fatal(err)
	}

	r, err := e.Evaluate(Facts{Domain: "blocked.example."})
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.Action != ActionServFail {
		t.Fatalf("expected servfail rule to match, got %+v", r)
	}

	r2, err := e.Evaluate(Facts{Domain: "host.corp.internal."})
	if err != nil {
		t.Fatal(err)
	}
	if r2 == nil || r2.Action != ActionLocal {
		t.Fatalf("expected local rule to match via MatchSuffix, got %+v", r2)
	}
}

func TestEngineNoMatch(t *testing.T) {
	e, err := Compile([]Rule{
		{Expr: `Domain == "blocked.example."`, Action: ActionServFail},
	})
	if err != nil {
		t.Fatal(err)
	}
	r, err := e.Evaluate(Facts{Domain: "allowed.example."})
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Errorf("expected no rule to match, got %+v", r)
	}
}

func TestCompileInvalidExpression(t *testing.T) {
	_, err := Compile([]Rule{{Expr: `Domain ==`}})
	if err == nil {
		t.Error("expected compile error for malformed expression")
	}
}
