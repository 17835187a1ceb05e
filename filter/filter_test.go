package filter

import (
	"reflect"
	"strings"
	"testing"
)

func TestRuleSet(t *testing.T) {
	r := newRuleSet()
	if !r.add("10.0.0.1", 80) {
		t.Fatal("first add reported an existing rule")
	}
	if r.add("10.0.0.1", 80) {
		t.Error("second add reported a new rule")
	}
	r.add("10.0.0.1", 443)
	if !r.has("10.0.0.1", 443) || r.has("10.0.0.2", 80) {
		t.Error("has reports wrong membership")
	}
	if got, want := r.keys(), []string{"10.0.0.1:443", "10.0.0.1:80"}; !reflect.DeepEqual(got, want) {
		t.Errorf("keys = %v, want %v", got, want)
	}
	if !r.remove("10.0.0.1", 80) || r.remove("10.0.0.1", 80) {
		t.Error("remove should succeed exactly once")
	}
	r.clear()
	if r.len() != 0 {
		t.Errorf("len after clear = %d", r.len())
	}
}

func TestNoopFilter(t *testing.T) {
	f := NewNoopFilter()
	if err := f.AddTcpServerFiltering("10.0.0.1", 80); err != nil {
		t.Fatal(err)
	}
	if err := f.RemoveTcpServerFiltering("10.0.0.1", 80); err != nil {
		t.Fatal(err)
	}
	if err := f.FinishFiltering(); err != nil {
		t.Fatal(err)
	}
}

func TestIptablesServerRule(t *testing.T) {
	got := strings.Join(iptablesServerRule("RAW_TCP", "10.0.0.1", 80), " ")
	want := "OUTPUT -p tcp --tcp-flags RST RST -s 10.0.0.1 --sport 80 -m comment --comment RAW_TCP -j DROP"
	if got != want {
		t.Errorf("rule = %q, want %q", got, want)
	}
}

func TestNftRuleHandles(t *testing.T) {
	listing := `table inet filter {
	chain output { # handle 2
		type filter hook output priority 100; policy accept;
		ip saddr 10.0.0.1 tcp sport 80 tcp flags & rst == rst counter packets 3 bytes 120 drop comment "RAW_TCP" # handle 7
		ip saddr 10.0.0.1 tcp sport 8080 tcp flags & rst == rst counter packets 0 bytes 0 drop comment "RAW_TCP" # handle 9
		ip saddr 10.0.0.1 tcp sport 80 tcp flags & rst == rst drop comment "OTHER" # handle 11
	}
}`
	if got := nftRuleHandles(listing, "RAW_TCP", "10.0.0.1", 80); !reflect.DeepEqual(got, []string{"7"}) {
		t.Errorf("handles for 10.0.0.1:80 = %v, want [7]", got)
	}
	if got := nftRuleHandles(listing, "RAW_TCP", "", 0); !reflect.DeepEqual(got, []string{"7", "9"}) {
		t.Errorf("all handles = %v, want [7 9]", got)
	}
	if got := nftRuleHandles(listing, "RAW_TCP", "10.0.0.2", 80); len(got) != 0 {
		t.Errorf("handles for unknown listener = %v", got)
	}
}

func TestNftServerRule(t *testing.T) {
	got := nftServerRule("RAW_TCP", "10.0.0.1", 80)
	if !strings.HasPrefix(got, "ip saddr 10.0.0.1 tcp sport 80 ") || !strings.HasSuffix(got, `drop comment "RAW_TCP"`) {
		t.Errorf("rule = %q", got)
	}
}

func TestPfServerRule(t *testing.T) {
	want := "block drop out quick inet proto tcp from 10.0.0.1 port = 80 to any flags R/R"
	if got := pfServerRule("10.0.0.1", 80); got != want {
		t.Errorf("rule = %q, want %q", got, want)
	}
}
