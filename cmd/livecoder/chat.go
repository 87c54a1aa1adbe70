package main

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jxucoder/livecoder/model"
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a chat message to the assistant",
	Long: `Send one chat message to a running server and print the reply along with
the actions the assistant took.

Example:
  livecoder chat "add a hi-hat on every off-beat"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the session state",
	Args:  cobra.NoArgs,
	RunE:  runState,
}

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the action vocabulary",
	Args:  cobra.NoArgs,
	RunE:  runActions,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(actionsCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	var reply model.ChatReply
	req := map[string]string{"content": strings.Join(args, " ")}
	if err := call(http.MethodPost, "/api/messages", req, &reply); err != nil {
		return err
	}

	for _, a := range reply.ActionsExecuted {
		mark := "\033[32m✓\033[0m"
		if !a.Result.Success {
			mark = "\033[31m✗\033[0m"
		}
		fmt.Printf("%s %s: %s\n", mark, a.Action, a.Result.Message)
	}
	if !reply.Success {
		fmt.Fprintf(os.Stderr, "\033[31m[error]\033[0m %s\n", reply.Error)
		return fmt.Errorf("chat failed")
	}
	fmt.Println(reply.Message)
	if reply.CodeUpdated {
		fmt.Println("\n(script updated)")
	}
	return nil
}

func runState(cmd *cobra.Command, args []string) error {
	var st struct {
		model.AppState
		Live []string `json:"live"`
	}
	if err := call(http.MethodGet, "/api/state", nil, &st); err != nil {
		return err
	}

	fmt.Printf("Playing:    %s\n", yesNo(st.IsRunning))
	fmt.Printf("Executing:  %s\n", yesNo(st.IsExecuting))
	fmt.Printf("Live:       %s\n", strings.Join(st.Live, ", "))
	fmt.Printf("Messages:   %d\n", len(st.Messages))
	if n := len(st.ExecutionHistory); n > 0 {
		last := st.ExecutionHistory[n-1]
		status := "ok"
		if !last.Success {
			status = "failed: " + last.Error
		}
		fmt.Printf("Last run:   %s (%s)\n", last.Timestamp.Format("15:04:05"), status)
	}
	fmt.Printf("\n%s\n", st.Script)
	return nil
}

func runActions(cmd *cobra.Command, args []string) error {
	var actions []model.ActionDescriptor
	if err := call(http.MethodGet, "/api/actions", nil, &actions); err != nil {
		return err
	}

	for _, a := range actions {
		fmt.Printf("%s\n  %s\n", a.Name, a.Description)
		names := make([]string, 0, len(a.Parameters))
		for name := range a.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := a.Parameters[name]
			req := ""
			if p.Required {
				req = " (required)"
			}
			fmt.Printf("    %-14s %s%s\n", name, p.Description, req)
		}
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
