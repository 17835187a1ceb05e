package filter

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

// Filter keeps the host network stack from answering segments addressed to
// a user-space listener. The host has no socket for the port, so without a
// filter it would reset every connection we accept.
type Filter interface {
	AddTcpServerFiltering(srcAddr string, srcPort int) error    // adds a rule blocking RST packets sent from the listening ip and port.
	RemoveTcpServerFiltering(srcAddr string, srcPort int) error // removes the rule added by AddTcpServerFiltering.
	FinishFiltering() error                                     // flushes all rules and stop filtering.
}

// ruleSet tracks the listeners a Filter currently protects.
type ruleSet struct {
	mu    sync.Mutex
	rules map[string]bool
}

func newRuleSet() *ruleSet {
	return &ruleSet{rules: make(map[string]bool)}
}

func ruleKey(addr string, port int) string {
	return fmt.Sprintf("%s:%d", addr, port)
}

// add records a rule and reports whether it was new.
func (r *ruleSet) add(addr string, port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ruleKey(addr, port)
	if r.rules[key] {
		return false
	}
	r.rules[key] = true
	return true
}

// remove forgets a rule and reports whether it was present.
func (r *ruleSet) remove(addr string, port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ruleKey(addr, port)
	if !r.rules[key] {
		return false
	}
	delete(r.rules, key)
	return true
}

func (r *ruleSet) has(addr string, port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rules[ruleKey(addr, port)]
}

func (r *ruleSet) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rules)
}

// keys returns the protected listeners in a stable order.
func (r *ruleSet) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.rules))
	for k := range r.rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *ruleSet) clear() {
	r.mu.Lock()
	r.rules = make(map[string]bool)
	r.mu.Unlock()
}

// noopFilter only records rules. It serves TUN devices, where the host stack
// never sees our segments, and platforms without a firewall backend.
type noopFilter struct {
	rules *ruleSet
}

func NewNoopFilter() Filter {
	return &noopFilter{rules: newRuleSet()}
}

func (n *noopFilter) AddTcpServerFiltering(srcAddr string, srcPort int) error {
	n.rules.add(srcAddr, srcPort)
	return nil
}

func (n *noopFilter) RemoveTcpServerFiltering(srcAddr string, srcPort int) error {
	n.rules.remove(srcAddr, srcPort)
	return nil
}

func (n *noopFilter) FinishFiltering() error {
	if n.rules.len() > 0 {
		log.Printf("Dropping %d unfiltered listener records: %s\n", n.rules.len(), strings.Join(n.rules.keys(), ", "))
	}
	n.rules.clear()
	return nil
}

// ======== rule text ========

// iptablesServerRule returns the iptables arguments after the -A/-D/-C verb.
func iptablesServerRule(comment, srcAddr string, srcPort int) []string {
	return []string{"OUTPUT", "-p", "tcp", "--tcp-flags", "RST", "RST", "-s", srcAddr, "--sport", fmt.Sprint(srcPort), "-m", "comment", "--comment", comment, "-j", "DROP"}
}

// nftServerRule returns an nftables rule expression dropping RST packets
// sent from srcAddr:srcPort, tagged with comment.
func nftServerRule(comment, srcAddr string, srcPort int) string {
	return fmt.Sprintf("ip saddr %s tcp sport %d tcp flags & rst == rst counter drop comment \"%s\"", srcAddr, srcPort, comment)
}

// nftRuleHandles extracts the handles of the rules in an `nft -a list chain`
// listing that match srcAddr:srcPort and carry comment. An empty srcAddr
// matches every rule carrying comment.
func nftRuleHandles(listing, comment, srcAddr string, srcPort int) []string {
	var handles []string
	match := fmt.Sprintf("ip saddr %s tcp sport %d ", srcAddr, srcPort)
	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "comment \""+comment+"\"") {
			continue
		}
		if srcAddr != "" && !strings.HasPrefix(line, match) {
			continue
		}
		i := strings.LastIndex(line, "# handle ")
		if i < 0 {
			continue
		}
		handles = append(handles, strings.TrimSpace(line[i+len("# handle "):]))
	}
	return handles
}

// pfServerRule returns the pf rule blocking RST packets sent from
// srcAddr:srcPort.
func pfServerRule(srcAddr string, srcPort int) string {
	return fmt.Sprintf("block drop out quick inet proto tcp from %s port = %d to any flags R/R", srcAddr, srcPort)
}
