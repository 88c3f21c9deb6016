package models

import "testing"

func TestAdvances(t *testing.T) {
	cases := []struct {
		cur, next State
		want      bool
	}{
		{StateRegistered, StateSubmitting, true},
		{StateSubmitting, StateProcessing, true},
		{StateProcessing, StateProcessing, true},
		{StateProcessing, StateCompleted, true},
		{StateProcessing, StateFailed, true},
		{StateCompleted, StateProcessing, false},
		{StateCompleted, StateFailed, false},
		{StateFailed, StateCompleted, false},
		{StateFailed, StateFailed, false},
		{StateProcessing, StateRegistered, false},
		{StateProcessing, State("bogus"), false},
	}
	for _, c := range cases {
		if got := Advances(c.cur, c.next); got != c.want {
			t.Fatalf("Advances(%s, %s) = %v, want %v", c.cur, c.next, got, c.want)
		}
	}
}

func TestStatsAdd(t *testing.T) {
	var st Stats
	for _, s := range States {
		st.Add(s)
	}
	st.Add(StateCompleted)
	if st.Total != 6 || st.Completed != 2 || st.Registered != 1 || st.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestCredentialStringRedactsSecret(t *testing.T) {
	c := Credential{ID: "app", Secret: "s3cr3t"}
	if got := c.String(); got != "credential(app)" {
		t.Fatalf("String() = %q", got)
	}
}
