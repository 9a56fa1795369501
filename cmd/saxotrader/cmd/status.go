package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"saxotrader/pkg/auth"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session and the configured orders",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
}

type orderPreview struct {
	Name         string     `json:"name"`
	Cron         string     `json:"cron"`
	NextFireTime *time.Time `json:"next_fire_time,omitempty"`
}

type statusOutput struct {
	Environment string         `json:"environment"`
	Session     auth.Status    `json:"session"`
	Orders      []orderPreview `json:"orders"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	session, err := openSession(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	now := time.Now()
	out := statusOutput{
		Environment: string(cfg.Environment),
		Session:     session.Status(),
		Orders:      []orderPreview{},
	}
	for _, o := range cfg.SchedulerOrders() {
		p := orderPreview{Name: o.Name, Cron: o.Cron}
		if sched, err := cron.ParseStandard(o.Cron); err == nil {
			next := sched.Next(now)
			p.NextFireTime = &next
		}
		out.Orders = append(out.Orders, p)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Environment:    %s\n", out.Environment)
	fmt.Printf("Auth state:     %s\n", out.Session.State)
	if t := out.Session.AccessTokenExpiresAt; t != nil {
		fmt.Printf("Access token:   expires %s\n", t.Local().Format(time.RFC3339))
	}
	if t := out.Session.RefreshTokenExpiresAt; t != nil {
		fmt.Printf("Refresh token:  expires %s\n", t.Local().Format(time.RFC3339))
	}
	fmt.Printf("Orders:         %d\n", len(out.Orders))
	for _, o := range out.Orders {
		next := "never"
		if o.NextFireTime != nil {
			next = o.NextFireTime.Local().Format(time.RFC3339)
		}
		fmt.Printf("  - %-20s %-20s next %s\n", o.Name, o.Cron, next)
	}
	return nil
}
