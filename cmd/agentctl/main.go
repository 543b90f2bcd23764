package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arcadian-labs/agentledger/pkg/client"
	"github.com/arcadian-labs/agentledger/pkg/passport"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	registryURL string
	keyPath     string
	cfgFile     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "agentledger registry CLI",
	Long: `agentctl is the command-line interface for the agentledger registry.

It manages agent registrations, reputation feedback, and human-readable
names. Mutating commands sign a login challenge with the key at --key.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".agentledger"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if registryURL == "" {
			registryURL = viper.GetString("registry_url")
		}
		if registryURL == "" {
			registryURL = "http://localhost:8080"
		}
		if keyPath == "" {
			keyPath = viper.GetString("key_path")
		}
		if keyPath == "" {
			home, _ := os.UserHomeDir()
			keyPath = filepath.Join(home, ".agentledger", "key")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.agentledger/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "registry base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&keyPath, "key", "", "hex-encoded secp256k1 key file (default ~/.agentledger/key)")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(nameCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client with the configured signing key.
func newClient() (*client.Client, error) {
	key, err := crypto.LoadECDSA(keyPath)
	if err != nil {
		return nil, fmt.Errorf("load key %s (run 'agentctl keygen' first): %w", keyPath, err)
	}
	return client.New(registryURL, client.WithKey(key))
}

// newReadClient builds an SDK client without a key, for read-only commands.
func newReadClient() (*client.Client, error) {
	return client.New(registryURL)
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("agent id must be a positive integer, got %q", s)
	}
	return id, nil
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a secp256k1 key and save it to --key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(keyPath); err == nil {
			return fmt.Errorf("refusing to overwrite existing key at %s", keyPath)
		}
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
			return fmt.Errorf("create key dir: %w", err)
		}
		if err := crypto.SaveECDSA(keyPath, key); err != nil {
			return fmt.Errorf("save key: %w", err)
		}
		fmt.Printf("key saved to %s\naddress: %s\n", keyPath, crypto.PubkeyToAddress(key.PublicKey).Hex())
		return nil
	},
}

// ── register ─────────────────────────────────────────────────────────────────

var registerURI string

var registerCmd = &cobra.Command{
	Use:   "register --uri <registration-uri>",
	Short: "Register a new agent owned by your key",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		id, err := c.RegisterAgent(context.Background(), registerURI, nil)
		if err != nil {
			return err
		}
		fmt.Printf("registered agent %d (owner %s)\n", id, c.Address().Hex())
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerURI, "uri", "", "registration document URI")
	_ = registerCmd.MarkFlagRequired("uri")
}

// ── get / agents ─────────────────────────────────────────────────────────────

var getCmd = &cobra.Command{
	Use:   "get <agent-id>",
	Short: "Show one agent record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newReadClient()
		if err != nil {
			return err
		}
		a, err := c.GetAgent(context.Background(), id)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(a, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents <owner-address>",
	Short: "List the agent ids owned by an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("owner must be a 0x-prefixed hex address")
		}
		c, err := newReadClient()
		if err != nil {
			return err
		}
		ids, err := c.AgentsOf(context.Background(), common.HexToAddress(args[0]))
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

// ── transfer / destroy ───────────────────────────────────────────────────────

var transferCmd = &cobra.Command{
	Use:   "transfer <agent-id> <new-owner>",
	Short: "Transfer an agent to a new owner",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if !common.IsHexAddress(args[1]) {
			return fmt.Errorf("new owner must be a 0x-prefixed hex address")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Transfer(context.Background(), id, common.HexToAddress(args[1])); err != nil {
			return err
		}
		fmt.Printf("agent %d transferred to %s\n", id, args[1])
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <agent-id>",
	Short: "Destroy an agent permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Destroy(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("agent %d destroyed\n", id)
		return nil
	},
}

// ── feedback ─────────────────────────────────────────────────────────────────

var (
	feedbackValue int64
	feedbackTag1  string
	feedbackTag2  string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <agent-id> --value <n>",
	Short: "Give feedback about an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		index, err := c.GiveFeedback(context.Background(), id, client.GiveFeedbackRequest{
			Value: feedbackValue,
			Tag1:  feedbackTag1,
			Tag2:  feedbackTag2,
		})
		if err != nil {
			return err
		}
		fmt.Printf("feedback recorded at index %d\n", index)
		return nil
	},
}

func init() {
	feedbackCmd.Flags().Int64Var(&feedbackValue, "value", 0, "feedback value")
	feedbackCmd.Flags().StringVar(&feedbackTag1, "tag1", "", "primary tag")
	feedbackCmd.Flags().StringVar(&feedbackTag2, "tag2", "", "secondary tag")
	_ = feedbackCmd.MarkFlagRequired("value")
}

var summaryClients []string

var summaryCmd = &cobra.Command{
	Use:   "summary <agent-id> --clients <addr,...>",
	Short: "Aggregate feedback from the named clients",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var addrs []common.Address
		for _, s := range summaryClients {
			if !common.IsHexAddress(s) {
				return fmt.Errorf("client %q is not a 0x-prefixed hex address", s)
			}
			addrs = append(addrs, common.HexToAddress(s))
		}
		c, err := newReadClient()
		if err != nil {
			return err
		}
		count, average, err := c.FeedbackSummary(context.Background(), id, client.FeedbackFilter{Clients: addrs})
		if err != nil {
			return err
		}
		fmt.Printf("count: %d\naverage: %d\n", count, average)
		return nil
	},
}

func init() {
	summaryCmd.Flags().StringSliceVar(&summaryClients, "clients", nil, "client addresses to aggregate over")
	_ = summaryCmd.MarkFlagRequired("clients")
}

// ── names ────────────────────────────────────────────────────────────────────

var nameCmd = &cobra.Command{
	Use:   "name <name> <agent-id>",
	Short: "Bind a human-readable name to an agent you own",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.RegisterName(context.Background(), args[0], id); err != nil {
			return err
		}
		fmt.Printf("name %q bound to agent %d\n", args[0], id)
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <id>",
	Short: "Fetch an agent's passport and verify its signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid agent id %q", args[0])
		}
		c, err := newReadClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		agent, err := c.GetAgent(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("agent %d\n  uri: %s\n", id, agent.URI)

		p, err := passport.Fetch(agent.URI)
		if err != nil {
			return fmt.Errorf("fetch passport: %w", err)
		}
		fmt.Printf("  passport: %s (agent_id %d, address %s, %d endpoints)\n",
			p.SchemaVersion, p.AgentID, p.Address.Hex(), len(p.Endpoints))
		if p.Signature == "" {
			fmt.Println("  signature: none")
			return nil
		}
		if err := p.Verify(); err != nil {
			return fmt.Errorf("passport signature INVALID: %w", err)
		}
		fmt.Println("  signature: valid")
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "Resolve a name to its agent id and owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newReadClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		id, err := c.ResolveName(ctx, args[0])
		if err != nil {
			return err
		}
		if id == 0 {
			fmt.Printf("%s: unbound\n", args[0])
			return nil
		}
		owner, err := c.ResolveNameOwner(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s -> agent %d (owner %s)\n", args[0], id, owner.Hex())
		return nil
	},
}

// ── events ───────────────────────────────────────────────────────────────────

var (
	eventsFrom  int
	eventsLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the registry's notification log and verify its chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newReadClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		page, err := c.Events(ctx, eventsFrom, eventsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IDX\tTYPE\tAGENT\tACTOR\tTIME")
		for _, ev := range page.Events {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
				ev.Index, ev.Type, ev.AgentID, ev.Actor, ev.Timestamp.Format(time.RFC3339))
		}
		w.Flush()

		if err := c.VerifyEvents(ctx); err != nil {
			return err
		}
		fmt.Printf("chain intact: %d events, root %s\n", page.Total, page.Root)
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsFrom, "from", 0, "first event index")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum events to list")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agentctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("agentctl", version)
	},
}
