//go:build linux
// +build linux

package filter

import (
	"fmt"
	"log"
	"os/exec"
	"strings"
)

// NewFilter picks iptables if it is usable and nftables otherwise. The
// identifier tags every rule so FinishFiltering can find them again.
func NewFilter(identifier string) (Filter, error) {
	if err := isIptablesEnabled(); err == nil {
		return &iptablesFilter{comment: identifier, rules: newRuleSet()}, nil
	} else {
		log.Println(err)
	}
	if isNftablesAvailable() {
		log.Println("Using nftables for packet filtering")
		return &nftablesFilter{comment: identifier, rules: newRuleSet()}, nil
	}
	return nil, fmt.Errorf("neither iptables nor nftables is available")
}

// isIptablesEnabled checks if iptables is enabled and available on the system.
func isIptablesEnabled() error {
	// The command "iptables -S" lists all rules in the filter table
	cmd := exec.Command("iptables", "-S")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables is not enabled or available: %v\nOutput: %s", err, string(output))
	}

	log.Println("iptables is enabled and available.")
	return nil
}

// isNftablesAvailable checks if the nft command is available.
func isNftablesAvailable() bool {
	cmd := exec.Command("which", "nft")
	return cmd.Run() == nil
}

// ======== iptables ========

type iptablesFilter struct {
	comment string
	rules   *ruleSet
}

// AddTcpServerFiltering adds an iptables rule to block RST packets originating from the given IP and port.
// It first checks if the rule already exists to avoid duplicates.
func (f *iptablesFilter) AddTcpServerFiltering(srcAddr string, srcPort int) error {
	rule := iptablesServerRule(f.comment, srcAddr, srcPort)

	// -C exits zero if the rule already exists
	if err := exec.Command("iptables", append([]string{"-C"}, rule...)...).Run(); err == nil {
		log.Printf("Rule already exists: -A %s\n", strings.Join(rule, " "))
		f.rules.add(srcAddr, srcPort)
		return nil
	}

	cmd := exec.Command("iptables", append([]string{"-A"}, rule...)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to add iptables rule: %v\nOutput: %s", err, string(output))
	}
	f.rules.add(srcAddr, srcPort)

	log.Printf("Successfully added rule: -A %s\n", strings.Join(rule, " "))
	return nil
}

// RemoveTcpServerFiltering removes the iptables rule that blocks RST packets for the given IP and port.
func (f *iptablesFilter) RemoveTcpServerFiltering(srcAddr string, srcPort int) error {
	f.rules.remove(srcAddr, srcPort)
	cmd := exec.Command("iptables", append([]string{"-D"}, iptablesServerRule(f.comment, srcAddr, srcPort)...)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to remove iptables rule: %v\nOutput: %s", err, string(output))
	}

	log.Printf("Successfully removed iptables rule for %s:%d\n", srcAddr, srcPort)
	return nil
}

// FinishFiltering removes all OUTPUT rules carrying our comment.
func (f *iptablesFilter) FinishFiltering() error {
	cmd := exec.Command("iptables", "-S", "OUTPUT")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to list iptables rules: %v\nOutput: %s", err, string(output))
	}

	var deleteErrors []string
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.HasPrefix(line, "-A ") || !hasIptablesComment(line, f.comment) {
			continue
		}
		// Replace "-A" with "-D" to delete the rule
		deleteCmd := strings.Replace(line, "-A", "-D", 1)
		cmd := exec.Command("sh", "-c", "iptables "+deleteCmd)
		if out, err := cmd.CombinedOutput(); err != nil {
			deleteErrors = append(deleteErrors, fmt.Sprintf("%s\nError: %s", deleteCmd, string(out)))
		}
	}
	f.rules.clear()

	if len(deleteErrors) > 0 {
		return fmt.Errorf("some rules failed to delete:\n%s", strings.Join(deleteErrors, "\n"))
	}
	return nil
}

// hasIptablesComment reports whether an `iptables -S` line carries comment,
// which iptables prints quoted only when it contains blanks.
func hasIptablesComment(line, comment string) bool {
	return strings.Contains(line, "--comment "+comment+" ") || strings.Contains(line, "--comment \""+comment+"\"")
}

// ======== nftables ========

type nftablesFilter struct {
	comment string
	rules   *ruleSet
}

func (n *nftablesFilter) AddTcpServerFiltering(srcAddr string, srcPort int) error {
	if err := n.ensureTableAndChain(); err != nil {
		return err
	}

	listing, err := n.listChain()
	if err != nil {
		log.Printf("Failed to check nftables rule existence: %v", err)
		// Continue anyway - we'll try to add the rule
	} else if len(nftRuleHandles(listing, n.comment, srcAddr, srcPort)) > 0 {
		n.rules.add(srcAddr, srcPort)
		return nil
	}

	rule := nftServerRule(n.comment, srcAddr, srcPort)
	// nft joins its arguments, so the rule can travel as one
	cmd := exec.Command("nft", "add", "rule", "inet", "filter", "output", rule)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to add nftables rule for %s:%d: %v\nOutput: %s", srcAddr, srcPort, err, string(output))
	}
	n.rules.add(srcAddr, srcPort)

	log.Printf("Successfully added nftables rule: %s\n", rule)
	return nil
}

// RemoveTcpServerFiltering deletes our rules for srcAddr:srcPort by handle.
func (n *nftablesFilter) RemoveTcpServerFiltering(srcAddr string, srcPort int) error {
	n.rules.remove(srcAddr, srcPort)
	listing, err := n.listChain()
	if err != nil {
		return err
	}
	return n.deleteHandles(nftRuleHandles(listing, n.comment, srcAddr, srcPort))
}

func (n *nftablesFilter) FinishFiltering() error {
	n.rules.clear()
	listing, err := n.listChain()
	if err != nil {
		return err
	}
	return n.deleteHandles(nftRuleHandles(listing, n.comment, "", 0))
}

func (n *nftablesFilter) listChain() (string, error) {
	output, err := exec.Command("nft", "-a", "list", "chain", "inet", "filter", "output").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to list nftables output chain: %v\nOutput: %s", err, string(output))
	}
	return string(output), nil
}

func (n *nftablesFilter) deleteHandles(handles []string) error {
	var deleteErrors []string
	for _, h := range handles {
		cmd := exec.Command("nft", "delete", "rule", "inet", "filter", "output", "handle", h)
		if out, err := cmd.CombinedOutput(); err != nil {
			deleteErrors = append(deleteErrors, fmt.Sprintf("handle %s: %s", h, string(out)))
		}
	}
	if len(deleteErrors) > 0 {
		return fmt.Errorf("some nftables rules failed to delete:\n%s", strings.Join(deleteErrors, "\n"))
	}
	return nil
}

// ensureTableAndChain ensures that the necessary table and chain exist in nftables.
func (n *nftablesFilter) ensureTableAndChain() error {
	if exec.Command("nft", "list", "table", "inet", "filter").Run() != nil {
		if err := exec.Command("nft", "add", "table", "inet", "filter").Run(); err != nil {
			return fmt.Errorf("failed to create nftables table: %w", err)
		}
	}

	if exec.Command("nft", "list", "chain", "inet", "filter", "output").Run() != nil {
		createChainCmd := exec.Command("nft", "add", "chain", "inet", "filter", "output", "{", "type", "filter", "hook", "output", "priority", "100", ";", "}")
		if err := createChainCmd.Run(); err != nil {
			return fmt.Errorf("failed to create nftables output chain: %w", err)
		}
	}

	return nil
}
