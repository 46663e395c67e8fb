package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status from a running daemon",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "127.0.0.1:8788", "dashboard address of the running daemon")
}

type statusAgent struct {
	ShortID     string `json:"short_id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	CurrentTask string `json:"current_task"`
}

func runStatus(cmd *cobra.Command, args []string) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + statusAddr + "/api/v1/agents")
	if err != nil {
		fmt.Printf("Cannot reach drover at %s: %v\n", statusAddr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var agents []statusAgent
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		fmt.Printf("Bad response from daemon: %v\n", err)
		os.Exit(1)
	}
	if len(agents) == 0 {
		fmt.Println("No agents.")
		return
	}
	fmt.Printf("%-10s %-10s %-10s %s\n", "ID", "STATUS", "UPTIME", "TITLE")
	for _, a := range agents {
		status := a.Status
		switch status {
		case "idle":
			status = color.GreenString(status)
		case "busy":
			status = color.YellowString(status)
		case "stopped":
			status = color.HiBlackString(status)
		}
		fmt.Printf("%-10s %-10s %-10s %s\n", a.ShortID, status, a.Uptime, a.Title)
		if a.CurrentTask != "" {
			fmt.Printf("           %s\n", color.HiBlackString(a.CurrentTask))
		}
	}
}
