package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weftworks/weft/internal/relay"
	"github.com/weftworks/weft/internal/ui"
)

// relayClient builds a client from --relay-url, WEFT_RELAY_URL or the
// project config, in that order.
func relayClient() (*relay.Client, error) {
	url := viper.GetString("relay-url")
	if url == "" && projectCfg != nil {
		url = projectCfg.RelayURL
	}
	if url == "" {
		return nil, fmt.Errorf("no relay configured (set relay_url in .weft/metadata.json or WEFT_RELAY_URL)")
	}
	return relay.NewClient(url), nil
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Talk to the local message relay",
}

var relaySendCmd = &cobra.Command{
	Use:   "send <body>...",
	Short: "Publish a message to a topic or directly to an agent",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}
		c, err := relayClient()
		if err != nil {
			return err
		}

		topic, _ := cmd.Flags().GetString("topic")
		to, _ := cmd.Flags().GetString("to")
		if topic == "" && to == "" {
			return fmt.Errorf("either --topic or --to is required")
		}

		resp, err := c.Send(cmd.Context(), relay.SendRequest{
			From:  actor(),
			Topic: topic,
			To:    to,
			Body:  strings.Join(args, " "),
		})
		if err != nil {
			return err
		}
		fmt.Printf("sent %s\n", resp.MessageID)
		return nil
	},
}

var relayInboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Fetch pending messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}
		c, err := relayClient()
		if err != nil {
			return err
		}

		max, _ := cmd.Flags().GetInt("max")
		resp, err := c.FetchInbox(cmd.Context(), relay.FetchInboxRequest{Agent: actor(), Max: max})
		if err != nil {
			return err
		}
		if len(resp.Messages) == 0 {
			fmt.Println("inbox empty")
			return nil
		}

		ids := make([]string, 0, len(resp.Messages))
		for _, m := range resp.Messages {
			target := m.Topic
			if m.To != "" {
				target = "@" + m.To
			}
			fmt.Printf("%s [%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), target, m.From, m.Body)
			ids = append(ids, m.ID)
		}

		if ack, _ := cmd.Flags().GetBool("ack"); ack {
			acked, err := c.Acknowledge(cmd.Context(), relay.AcknowledgeRequest{Agent: actor(), MessageIDs: ids})
			if err != nil {
				return err
			}
			fmt.Printf("acknowledged %d\n", acked.Acknowledged)
		}
		return nil
	},
}

var relayTopicCmd = &cobra.Command{
	Use:   "topic",
	Short: "Claim or release relay topics",
}

var relayTopicReserveCmd = &cobra.Command{
	Use:   "reserve <topic>",
	Short: "Claim a topic for exclusive publishing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}
		c, err := relayClient()
		if err != nil {
			return err
		}

		resp, err := c.ReserveTopic(cmd.Context(), relay.ReserveTopicRequest{Agent: actor(), Topic: args[0]})
		if err != nil {
			return err
		}
		if !resp.Granted {
			fmt.Printf("%s topic %s held by %s\n", ui.RenderWarn(ui.IconWarn), args[0], resp.Holder)
			return fmt.Errorf("topic claim denied")
		}
		fmt.Printf("%s claimed %s\n", ui.RenderPass(ui.IconPass), args[0])
		return nil
	},
}

var relayTopicReleaseCmd = &cobra.Command{
	Use:   "release <topic>",
	Short: "Give a claimed topic back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}
		c, err := relayClient()
		if err != nil {
			return err
		}

		if _, err := c.ReleaseTopic(cmd.Context(), relay.ReleaseTopicRequest{Agent: actor(), Topic: args[0]}); err != nil {
			return err
		}
		fmt.Printf("released %s\n", args[0])
		return nil
	},
}

var relaySummarizeCmd = &cobra.Command{
	Use:   "summarize <topic>",
	Short: "Ask the relay for a digest of a topic's history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}
		c, err := relayClient()
		if err != nil {
			return err
		}

		max, _ := cmd.Flags().GetInt("max")
		resp, err := c.SummarizeThread(cmd.Context(), relay.SummarizeThreadRequest{Topic: args[0], Max: max})
		if err != nil {
			return err
		}
		fmt.Printf("%s\n(%d messages)\n", resp.Summary, resp.MessageCount)
		return nil
	},
}

var relayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe relay health once",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}
		c, err := relayClient()
		if err != nil {
			return err
		}

		if err := c.Ping(cmd.Context()); err != nil {
			fmt.Printf("%s relay unhealthy: %v\n", ui.RenderFail(ui.IconFail), err)
			return fmt.Errorf("relay unreachable")
		}
		fmt.Printf("%s relay healthy\n", ui.RenderPass(ui.IconPass))
		return nil
	},
}

var relayWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor relay health and restart it when it stops responding",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureStore(cmd.Context()); err != nil {
			return err
		}
		c, err := relayClient()
		if err != nil {
			return err
		}

		restart, _ := cmd.Flags().GetString("restart-cmd")
		var restartCmd []string
		if restart != "" {
			restartCmd = strings.Fields(restart)
		}

		m := relay.NewMonitor(c, restartCmd)
		m.Start()
		defer m.Stop()

		fmt.Println("watching relay (ctrl-c to stop)")
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sig:
		case <-cmd.Context().Done():
		}
		return nil
	},
}

func init() {
	relayCmd.PersistentFlags().String("relay-url", "", "relay base URL (overrides project config)")
	_ = viper.BindPFlag("relay-url", relayCmd.PersistentFlags().Lookup("relay-url"))

	relaySendCmd.Flags().String("topic", "", "topic to publish to")
	relaySendCmd.Flags().String("to", "", "agent to message directly")
	relayInboxCmd.Flags().Int("max", 0, "maximum messages to fetch (0 = all)")
	relayInboxCmd.Flags().Bool("ack", false, "acknowledge fetched messages")
	relaySummarizeCmd.Flags().Int("max", 0, "maximum messages to digest (0 = all)")
	relayWatchCmd.Flags().String("restart-cmd", "", "command that restarts the relay process")

	relayTopicCmd.AddCommand(relayTopicReserveCmd, relayTopicReleaseCmd)
	relayCmd.AddCommand(relaySendCmd, relayInboxCmd, relayTopicCmd, relaySummarizeCmd, relayStatusCmd, relayWatchCmd)
	rootCmd.AddCommand(relayCmd)
}
