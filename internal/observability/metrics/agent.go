package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type counterKey struct {
	name  string
	label string
	value string
}

type counterSet struct {
	mu     sync.Mutex
	counts map[counterKey]uint64
}

var agentCollector = &counterSet{counts: make(map[counterKey]uint64)}

// ObserveTaskCompletion records the terminal status of a processed task.
func ObserveTaskCompletion(status string) {
	agentCollector.inc("giza_tasks_total", "status", status)
}

// ObserveVerification records the outcome of a proof verification cycle.
func ObserveVerification(outcome string) {
	agentCollector.inc("giza_verifications_total", "outcome", outcome)
}

// ObserveVaultTransaction records an on-chain vault interaction by action kind.
func ObserveVaultTransaction(action string) {
	agentCollector.inc("giza_vault_transactions_total", "action", action)
}

func (c *counterSet) inc(name, label, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[counterKey{name: name, label: label, value: value}]++
}

func (c *counterSet) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type metric struct {
		counterKey
		value uint64
	}
	all := make([]metric, 0, len(c.counts))
	for key, value := range c.counts {
		all = append(all, metric{counterKey: key, value: value})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].name == all[j].name {
			return all[i].counterKey.value < all[j].counterKey.value
		}
		return all[i].name < all[j].name
	})

	help := map[string]string{
		"giza_tasks_total":              "Total number of agent tasks by terminal status.",
		"giza_verifications_total":      "Total number of proof verification cycles by outcome.",
		"giza_vault_transactions_total": "Total number of vault transactions by action.",
	}

	var builder strings.Builder
	seen := make(map[string]bool)
	for _, m := range all {
		if !seen[m.name] {
			builder.WriteString(fmt.Sprintf("# HELP %s %s\n", m.name, help[m.name]))
			builder.WriteString(fmt.Sprintf("# TYPE %s counter\n", m.name))
			seen[m.name] = true
		}
		builder.WriteString(fmt.Sprintf("%s{%s=\"%s\"} %d\n", m.name, m.label, escape(m.counterKey.value), m.value))
	}
	return builder.String()
}
