package authgate

import "testing"

func TestIssueResolveRevoke(t *testing.T) {
	g := New()

	token, err := g.Issue("ada")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	username, ok := g.Resolve(token)
	if !ok || username != "ada" {
		t.Fatalf("expected to resolve ada, got username=%q ok=%v", username, ok)
	}

	g.Revoke(token)
	if _, ok := g.Resolve(token); ok {
		t.Fatal("expected the token to be gone after Revoke")
	}
}

func TestResolve_RejectsEmptyToken(t *testing.T) {
	g := New()
	if _, ok := g.Resolve(""); ok {
		t.Fatal("expected an empty token to never resolve")
	}
}

func TestIssue_TokensAreUnique(t *testing.T) {
	g := New()
	a, err := g.Issue("ada")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	b, err := g.Issue("ada")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if a == b {
		t.Fatal("expected two issued tokens for the same user to differ")
	}
}
