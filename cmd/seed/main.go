// cmd/seed — populates a running registry with realistic mock data for
// development: a handful of agents with metadata and names, plus crossed
// feedback between them.
//
// Each run generates fresh keypairs, so running twice simply adds another
// batch of agents. Point it at a dev registry, never a shared one.
//
// Usage:
//
//	go run ./cmd/seed
//	REGISTRY_URL=http://localhost:8080 go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/arcadian-labs/agentledger/pkg/client"
)

const defaultRegistry = "http://localhost:8080"

type seedAgent struct {
	uri      string
	name     string
	metadata map[string]string
	tag      string
}

var seedAgents = []seedAgent{
	{
		uri:  "https://agents.translate.example.com/passport.json",
		name: "translator",
		metadata: map[string]string{
			"description": "Document translation across 14 language pairs",
			"category":    "language",
		},
		tag: "translation",
	},
	{
		uri:  "https://summarize.example.net/.well-known/passport.json",
		name: "summarizer",
		metadata: map[string]string{
			"description": "Long-document summarization with citation tracking",
			"category":    "language",
		},
		tag: "summarization",
	},
	{
		uri:  "ipfs://bafybeidevseedcode0001/passport.json",
		name: "codereview",
		metadata: map[string]string{
			"description": "Automated pull-request review",
			"category":    "engineering",
		},
		tag: "code-review",
	},
	{
		uri:  "https://scheduler.example.org/passport.json",
		name: "scheduler",
		metadata: map[string]string{
			"description": "Cross-timezone meeting negotiation",
			"category":    "productivity",
		},
		tag: "scheduling",
	},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	base := os.Getenv("REGISTRY_URL")
	if base == "" {
		base = defaultRegistry
	}
	ctx := context.Background()

	type seeded struct {
		id  uint64
		sdk *client.Client
	}
	var agents []seeded

	for _, def := range seedAgents {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		sdk, err := client.New(base, client.WithKey(key))
		if err != nil {
			return err
		}

		id, err := sdk.RegisterAgent(ctx, def.uri, nil)
		if err != nil {
			return fmt.Errorf("register %s: %w", def.name, err)
		}
		for k, v := range def.metadata {
			if err := sdk.SetMetadata(ctx, id, k, []byte(v)); err != nil {
				return fmt.Errorf("metadata for %s: %w", def.name, err)
			}
		}
		if err := sdk.RegisterName(ctx, uniqueName(def.name), id); err != nil {
			return fmt.Errorf("name for %s: %w", def.name, err)
		}

		fmt.Printf("registered agent %d (%s) owner %s\n", id, def.name, sdk.Address().Hex())
		agents = append(agents, seeded{id: id, sdk: sdk})
	}

	// Crossed feedback: every agent's owner reviews every other agent.
	for i, reviewer := range agents {
		for j, target := range agents {
			if i == j {
				continue
			}
			score := int64(60 + rand.Intn(40))
			_, err := reviewer.sdk.GiveFeedback(ctx, target.id, client.GiveFeedbackRequest{
				Value: score,
				Tag1:  seedAgents[j].tag,
			})
			if err != nil {
				return fmt.Errorf("feedback %d -> %d: %w", agents[i].id, target.id, err)
			}
		}
	}
	fmt.Printf("gave %d feedback entries\n", len(agents)*(len(agents)-1))

	fmt.Println("seed complete")
	return nil
}

// uniqueName suffixes the base name so repeated runs do not collide on the
// name bijection.
func uniqueName(base string) string {
	return fmt.Sprintf("%s-%04d", base, rand.Intn(10000))
}
