//go:build darwin
// +build darwin

package filter

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// filterImpl is the implementation of the Filter interface for macOS. Rules
// live in a pf anchor that /etc/pf.conf must reference.
type filterImpl struct {
	anchor string
	rules  *ruleSet
	mu     sync.Mutex // one anchor reload at a time
}

func NewFilter(identifier string) (Filter, error) {
	// 1. Check if PF is enabled.
	enabled, err := isPFEnabled()
	if err != nil || !enabled {
		return nil, fmt.Errorf("PF service is not enabled: %v", err)
	}

	// 2. Ensure the anchor reference exists in /etc/pf.conf.
	refExists, err := pfCheckAnchor(identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to check anchor reference in /etc/pf.conf: %v", err)
	}
	if !refExists {
		return nil, fmt.Errorf("anchor reference to %s does not exists in /etc/pf.conf. Please add it", identifier)
	}

	return &filterImpl{
		anchor: identifier,
		rules:  newRuleSet(),
	}, nil
}

// AddTcpServerFiltering adds a rule blocking RST packets sent from the
// listener to the anchor while leaving existing rules intact.
func (f *filterImpl) AddTcpServerFiltering(srcAddr string, srcPort int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	currentRules, err := getPfRules(f.anchor)
	if err != nil {
		return fmt.Errorf("failed to retrieve current rules: %v", err)
	}

	newRule := pfServerRule(srcAddr, srcPort)
	if !containsRule(currentRules, newRule) {
		currentRules = append(currentRules, newRule)
	}

	// Reload the anchor with the updated rule set.
	if err := pfLoadRules(f.anchor, strings.Join(currentRules, "\n")); err != nil {
		return fmt.Errorf("failed to load updated rules: %v", err)
	}

	if err := verifyRuleExactMatch(f.anchor, newRule); err != nil {
		return fmt.Errorf("rule verification failed: %v", err)
	}
	f.rules.add(srcAddr, srcPort)

	log.Printf("Successfully added rule:\n%s\n", newRule)
	return nil
}

// RemoveTcpServerFiltering removes a single filtering rule from the anchor while leaving the other rules intact.
func (f *filterImpl) RemoveTcpServerFiltering(srcAddr string, srcPort int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	currentRules, err := getPfRules(f.anchor)
	if err != nil {
		return fmt.Errorf("failed to retrieve current rules: %v", err)
	}

	ruleToRemove := strings.TrimSpace(pfServerRule(srcAddr, srcPort))
	updatedRules := []string{}
	for _, rule := range currentRules {
		if strings.TrimSpace(rule) != ruleToRemove {
			updatedRules = append(updatedRules, rule)
		}
	}

	if err := pfLoadRules(f.anchor, strings.Join(updatedRules, "\n")+"\n"); err != nil {
		return fmt.Errorf("failed to load updated rules: %v", err)
	}
	f.rules.remove(srcAddr, srcPort)

	log.Println("Successfully removed rule:", ruleToRemove)
	return nil
}

// FinishFiltering flushes all rules in the anchor.
func (f *filterImpl) FinishFiltering() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmdFlush := exec.Command("pfctl", "-a", f.anchor, "-F", "rules")
	output, err := cmdFlush.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to flush rules for anchor %s: %v\nCommand output: %s", f.anchor, err, string(output))
	}
	f.rules.clear()

	return nil
}

// ======== PF Control Functions ========

// isPFEnabled checks whether PF is enabled.
func isPFEnabled() (bool, error) {
	output, err := exec.Command("pfctl", "-s", "info").CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("pfctl check failed: %v\nOutput: %s", err, string(output))
	}
	return strings.Contains(string(output), "Status: Enabled"), nil
}

// pfCheckAnchor checks if /etc/pf.conf contains a reference to the specified anchor.
// It returns true if the anchor is found, false otherwise.
func pfCheckAnchor(anchor string) (bool, error) {
	// Read the content of /etc/pf.conf
	data, err := os.ReadFile("/etc/pf.conf")
	if err != nil {
		return false, fmt.Errorf("failed to read /etc/pf.conf: %v", err)
	}

	// Construct the anchor reference string to look for.
	// This assumes the reference is written as: anchor "anchor_name"
	anchorRef := fmt.Sprintf("anchor \"%s\"", anchor)

	// Check if the content contains the anchor reference.
	if strings.Contains(string(data), anchorRef) {
		return true, nil
	}

	return false, nil
}

// getPfRules retrieves the current PF rules for the given anchor, keeping only "block" rules which is the only type of rules we use.
func getPfRules(anchor string) ([]string, error) {
	cmd := exec.Command("pfctl", "-a", anchor, "-s", "rules")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to query PF rules: %v\nOutput: %s", err, string(output))
	}

	lines := strings.Split(string(output), "\n")
	var rules []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "block") {
			rules = append(rules, trimmed)
		}
	}
	return rules, nil
}

func pfLoadRules(anchor, rules string) error {
	//fmt.Printf("Debug - PF Rules: %q\n", rules) // output quoted string which shows hidden characters

	cmd := exec.Command("sh", "-c", fmt.Sprintf("echo %q | sudo /sbin/pfctl -a %s -f -", rules, anchor))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to load PF rules: %v\nCommand output: %s", err, string(output))
	}
	return nil
}

// verifyRuleExactMatch checks if the expected rule exactly appears in the anchor.
func verifyRuleExactMatch(anchor, expectedRule string) error {
	cmd := exec.Command("/sbin/pfctl", "-a", anchor, "-s", "rules")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to query PF rules: %v", err)
	}

	expected := strings.TrimSpace(expectedRule)
	current := strings.TrimSpace(string(output))
	if !strings.Contains(current, expected) {
		return fmt.Errorf("rule does not match\nCurrent rules:\n%s\nExpected:\n%s", current, expected)
	}
	return nil
}

// containsRule checks if the given slice of rules contains the target rule.
func containsRule(rules []string, target string) bool {
	target = strings.TrimSpace(target)
	for _, rule := range rules {
		if strings.TrimSpace(rule) == target {
			return true
		}
	}
	return false
}
