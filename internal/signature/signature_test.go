package signature

import (
	"testing"
	"time"

	"docparse-tracker/internal/models"
)

func parseParams() map[string]any {
	return map[string]any{
		"validBegin": int64(1700000000),
		"validTime":  300,
		"appId":      "demo-app-id",
		"sourcePath": "oss://b/k.pdf",
		"taskType":   8,
	}
}

func TestCanonicalSortsAndFilters(t *testing.T) {
	p := parseParams()
	p["signature"] = "ABC"
	p["__plasoRequestId__"] = "trace-1"
	p["callbackUrl"] = nil

	got := Canonical(p)
	want := "appId=demo-app-id&sourcePath=oss://b/k.pdf&taskType=8&validBegin=1700000000&validTime=300"
	if got != want {
		t.Fatalf("canonical = %q, want %q", got, want)
	}
}

func TestSignKnownVector(t *testing.T) {
	got := Sign(parseParams(), "demo-secret-key")
	want := "BFE85141C55CE73BA3C17707F06BE7277657C240"
	if got != want {
		t.Fatalf("signature = %s, want %s", got, want)
	}
}

func TestSignJSONNumbersMatchIntegers(t *testing.T) {
	p := parseParams()
	p["validBegin"] = float64(1700000000)
	p["taskType"] = float64(8)
	if Sign(p, "demo-secret-key") != Sign(parseParams(), "demo-secret-key") {
		t.Fatalf("float64 integral values must stringify like integers")
	}
}

func TestSignIndependentOfInsertionOrder(t *testing.T) {
	a := map[string]any{}
	b := map[string]any{}
	keys := []string{"z", "a", "m", "b"}
	for i, k := range keys {
		a[k] = i
	}
	for i := len(keys) - 1; i >= 0; i-- {
		b[keys[i]] = i
	}
	if Sign(a, "k") != Sign(b, "k") {
		t.Fatalf("signature depends on insertion order")
	}
}

func TestSignChangesWithValues(t *testing.T) {
	base := Sign(parseParams(), "k")
	for key := range parseParams() {
		p := parseParams()
		p[key] = "changed"
		if Sign(p, "k") == base {
			t.Fatalf("changing %s did not change signature", key)
		}
	}
	if Sign(parseParams(), "other") == base {
		t.Fatalf("changing secret did not change signature")
	}
}

func TestSignIgnoresExcludedKeys(t *testing.T) {
	base := Sign(parseParams(), "k")

	p := parseParams()
	p["signature"] = "whatever"
	p["__plasoRequestId__"] = "req-9"
	p["absent"] = nil
	if Sign(p, "k") != base {
		t.Fatalf("excluded keys changed the signature")
	}
}

func TestVerify(t *testing.T) {
	p := parseParams()
	p["signature"] = Sign(p, "k")
	if !Verify(p, "k") {
		t.Fatalf("expected valid signature")
	}
	if Verify(p, "other") {
		t.Fatalf("expected mismatch with wrong secret")
	}
	p["taskType"] = 5
	if Verify(p, "k") {
		t.Fatalf("expected mismatch after tampering")
	}
	delete(p, "signature")
	if Verify(p, "k") {
		t.Fatalf("expected failure without signature")
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(
		models.Credential{ID: "a", Secret: "1"},
		models.Credential{ID: "b", Secret: "2"},
		models.Credential{ID: "a", Secret: "3"},
		models.Credential{ID: "", Secret: "x"},
	)
	if ids := r.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	c, ok := r.Resolve("a")
	if !ok || c.Secret != "3" {
		t.Fatalf("resolve a = %+v ok=%v", c, ok)
	}
	if _, ok := r.Resolve("A"); ok {
		t.Fatalf("lookup must be exact")
	}
	if _, ok := r.Resolve(""); ok {
		t.Fatalf("empty id must not resolve")
	}
	var nilReg *Registry
	if _, ok := nilReg.Resolve("a"); ok {
		t.Fatalf("nil registry must not resolve")
	}
}

func TestRegistryIssue(t *testing.T) {
	r := NewRegistry(models.Credential{ID: "app", Secret: "s"})
	now := time.Unix(1700000000, 0)

	out, err := r.Issue(map[string]any{"appId": "app", "recordId": "r1"}, now, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if out["validBegin"] != int64(1700000000) || out["validTime"] != int64(3600) {
		t.Fatalf("unexpected validity window: %v %v", out["validBegin"], out["validTime"])
	}
	if !Verify(out, "s") {
		t.Fatalf("issued params do not verify")
	}

	out, err = r.Issue(map[string]any{"appId": "app", "validTime": 60}, now, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if out["validTime"] != 60 {
		t.Fatalf("caller validTime should win, got %v", out["validTime"])
	}

	if _, err := r.Issue(map[string]any{"appId": "nope"}, now, time.Hour); err == nil {
		t.Fatalf("expected auth failure for unknown appId")
	}
}
