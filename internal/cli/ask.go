package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/harun/insightx/pkg/orchestrator"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"
)

var (
	askSession string
	askChat    string
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Run one analysis turn locally and print the events",
	Long: `Run one turn against the configured profile store and executor without
starting the gateway. Progress is printed as it arrives; --json prints the raw
stream events one per line.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "dataset session id (required)")
	askCmd.Flags().StringVar(&askChat, "chat", "", "chat id (default: random)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print raw events as JSON lines")
	_ = askCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	chatID := askChat
	if chatID == "" {
		chatID, _ = gonanoid.New()
	}

	ctx, stop := signalContext()
	defer stop()

	events, err := a.orchestrator.Run(ctx, orchestrator.TurnRequest{
		SessionID:   askSession,
		ChatID:      chatID,
		UserMessage: strings.Join(args, " "),
	})
	if err != nil {
		return err
	}
	return printEvents(cmd.OutOrStdout(), events, askJSON)
}

// printEvents renders a turn's events and returns an error if the turn failed terminally.
func printEvents(w io.Writer, events <-chan orchestrator.Event, raw bool) error {
	var failure error
	for e := range events {
		if raw {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(data))
		} else {
			printEvent(w, e)
		}
		if ev, ok := e.(orchestrator.ErrorEvent); ok && ev.Terminal {
			failure = fmt.Errorf("turn failed: %s", ev.Message)
		}
	}
	return failure
}

func printEvent(w io.Writer, e orchestrator.Event) {
	switch ev := e.(type) {
	case orchestrator.StatusEvent:
		fmt.Fprintf(w, "... %s\n", ev.Message)
	case orchestrator.ToastEvent:
		fmt.Fprintf(w, "!   %s\n", ev.Message)
	case orchestrator.OrchestratorResultEvent:
		fmt.Fprintf(w, "->  %s: %s\n", ev.Classification, ev.Reasoning)
	case orchestrator.CodeWrittenEvent:
		fmt.Fprintf(w, "\n[%s]\n%s\n\n", ev.Language, ev.Code)
	case orchestrator.SQLResultEvent:
		fmt.Fprintf(w, "    %d rows\n", ev.RowCount)
	case orchestrator.PythonResultEvent:
		fmt.Fprintln(w, "    python finished")
	case orchestrator.ErrorEvent:
		fmt.Fprintf(w, "ERR %s\n", ev.Message)
		if ev.Details != "" {
			fmt.Fprintf(w, "    %s\n", ev.Details)
		}
	case orchestrator.FinalResponseEvent:
		if ev.Result == nil {
			return
		}
		fmt.Fprintf(w, "\n%s\n", ev.Result.Text)
		keys := make([]string, 0, len(ev.Result.Metrics))
		for k := range ev.Result.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  - %s: %v\n", k, ev.Result.Metrics[k])
		}
		if len(ev.Result.FollowUps) > 0 {
			fmt.Fprintln(w, "\nFollow-ups:")
			for _, f := range ev.Result.FollowUps {
				fmt.Fprintf(w, "  * %s\n", f)
			}
		}
	}
}
