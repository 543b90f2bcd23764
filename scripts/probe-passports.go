//go:build ignore

// probe-passports.go walks every agent in a registry, dereferences its
// passport pointer, and reports whether the document parses and whether its
// signature matches the claimed address.
//
// Run with: go run scripts/probe-passports.go [-registry http://localhost:8080]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/arcadian-labs/agentledger/pkg/client"
	"github.com/arcadian-labs/agentledger/pkg/passport"
)

const probeWorkers = 8

type result struct {
	id     uint64
	uri    string
	status string
}

func main() {
	registry := flag.String("registry", "http://localhost:8080", "registry base URL")
	flag.Parse()

	if err := run(*registry); err != nil {
		fmt.Fprintf(os.Stderr, "probe-passports: %v\n", err)
		os.Exit(1)
	}
}

func run(base string) error {
	sdk, err := client.New(base)
	if err != nil {
		return err
	}
	ctx := context.Background()

	// The event log carries every registration; walking it is the cheapest
	// way to enumerate ids without a dedicated listing endpoint.
	page, err := sdk.Events(ctx, 0, 1000)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	seen := map[uint64]bool{}
	var ids []uint64
	for _, ev := range page.Events {
		if ev.AgentID == 0 || seen[ev.AgentID] {
			continue
		}
		seen[ev.AgentID] = true
		ids = append(ids, ev.AgentID)
	}
	fmt.Printf("probing %d agents from %s\n\n", len(ids), base)

	jobs := make(chan uint64)
	results := make(chan result)
	var wg sync.WaitGroup
	for w := 0; w < probeWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				results <- probe(ctx, sdk, id)
			}
		}()
	}
	go func() {
		for _, id := range ids {
			jobs <- id
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tURI")
	for r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.id, r.status, r.uri)
	}
	return tw.Flush()
}

func probe(ctx context.Context, sdk *client.Client, id uint64) result {
	agent, err := sdk.GetAgent(ctx, id)
	if err != nil {
		return result{id: id, status: "gone"}
	}
	r := result{id: id, uri: agent.URI}

	p, err := passport.Fetch(agent.URI)
	if err != nil {
		r.status = "unreachable: " + err.Error()
		return r
	}
	if p.Signature == "" {
		r.status = "unsigned"
		return r
	}
	if err := p.Verify(); err != nil {
		r.status = "BAD SIGNATURE"
		return r
	}
	r.status = "ok"
	return r
}
