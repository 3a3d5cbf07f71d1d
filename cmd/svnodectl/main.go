// svnodectl - operator CLI for a running svnoded instance
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var apiAddr string

var rootCmd = &cobra.Command{
	Use:   "svnodectl",
	Short: "Control a running svnoded instance",
	Long:  "svnodectl talks to the REST API of a running svnoded daemon.",
}

var statusCmd = &cobra.Command{
	Use:   "safemode-status",
	Short: "Print the current safe-mode status document",
	RunE: func(cmd *cobra.Command, args []string) error {
		pretty, _ := cmd.Flags().GetBool("pretty")
		path := "/v1/safemode/status"
		if pretty {
			path += "?pretty=1"
		}
		return get(path)
	},
}

var clearCmd = &cobra.Command{
	Use:   "safemode-clear",
	Short: "Reset the safe-mode monitor state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/v1/safemode/clear")
	},
}

var ignoreCmd = &cobra.Command{
	Use:   "safemode-ignore <block-hash>",
	Short: "Exclude a block (and the fork above it) from safe-mode classification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/v1/safemode/ignore/" + args[0])
	},
}

var unignoreCmd = &cobra.Command{
	Use:   "safemode-unignore <block-hash>",
	Short: "Clear the safe-mode ignore flag on a block",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/v1/safemode/unignore/" + args[0])
	},
}

var tipsCmd = &cobra.Command{
	Use:   "chain-tips",
	Short: "List the known competing chain tips",
	RunE: func(cmd *cobra.Command, args []string) error {
		return get("/v1/chain/tips")
	},
}

var tipCmd = &cobra.Command{
	Use:   "chain-tip",
	Short: "Show the active chain tip",
	RunE: func(cmd *cobra.Command, args []string) error {
		return get("/v1/chain/tip")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&apiAddr, "addr", "a", "http://127.0.0.1:8332", "svnoded API address")
	statusCmd.Flags().Bool("pretty", false, "pretty-print the JSON document")

	rootCmd.AddCommand(statusCmd, clearCmd, ignoreCmd, unignoreCmd, tipsCmd, tipCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var client = &http.Client{Timeout: 10 * time.Second}

func get(path string) error {
	resp, err := client.Get(strings.TrimRight(apiAddr, "/") + path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func post(path string) error {
	resp, err := client.Post(strings.TrimRight(apiAddr, "/")+path, "application/json", nil)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	fmt.Println(strings.TrimSpace(string(body)))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}
