package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/velocity/internal/bandit"
	velocityhttp "github.com/fyrsmithlabs/velocity/internal/http"
)

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check velocityd server health",
		Long: `Check the health status of the velocityd HTTP server.

Examples:
  # Check health
  velctl health

  # Check health on a different server
  velctl health --server http://localhost:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := c.do(cmd.Context(), http.MethodGet, "/health", nil)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return writeRaw(cmd.OutOrStdout(), data)
			}
			var health velocityhttp.HealthResponse
			if err := json.Unmarshal(data, &health); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", health.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Arms:          %d\n", health.Arms)
			if health.Version != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Version:       %s\n", health.Version)
			}
			return nil
		},
	}
}

func (c *cli) predictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "predict [file]",
		Short: "Recommend a candidate for a task",
		Long: `Send a {"task": ..., "candidates": [...]} document and print the ranked
candidates with the recommendation id to pass to feedback.

Examples:
  velctl predict request.json
  cat request.json | velctl predict -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			data, err := c.do(cmd.Context(), http.MethodPost, "/api/v1/predict", body)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return writeRaw(cmd.OutOrStdout(), data)
			}

			var resp velocityhttp.PredictResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recommendation: %s (model %s)\n\n", resp.RecommendationID, resp.ModelVersion)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tEMPLOYEE\tSCORE\tCONFIDENCE")
			for i, s := range resp.SortedCandidates {
				fmt.Fprintf(w, "%d\t%s\t%.4f\t%.4f\n", i+1, s.EmployeeID, s.Score, s.Confidence)
			}
			return w.Flush()
		},
	}
}

func (c *cli) rankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rank [file]",
		Short: "Show score components without logging a decision",
		Long: `Rank candidates and print mean, uncertainty and score for each. Nothing is
recorded, so the result cannot receive feedback.

Examples:
  velctl rank request.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			data, err := c.do(cmd.Context(), http.MethodPost, "/api/v1/rank", body)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return writeRaw(cmd.OutOrStdout(), data)
			}

			var resp velocityhttp.RankResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tCANDIDATE\tSCORE\tMEAN\tUNCERTAINTY\tCONFIDENCE")
			for i, r := range resp.Results {
				fmt.Fprintf(w, "%d\t%s\t%.4f\t%.4f\t%.4f\t%.4f\n", i+1, r.ID, r.Score, r.Mean, r.Uncertainty, r.Confidence)
			}
			return w.Flush()
		},
	}
}

func (c *cli) trainCmd() *cobra.Command {
	var (
		armID    string
		features []float64
		reward   float64
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Update one arm with a raw feature vector and reward",
		Long: `Train a single arm directly.

Examples:
  velctl train --arm emp-1 --features 1,0.5,0.2,0.8,0.25,0.75 --reward 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := c.do(cmd.Context(), http.MethodPost, "/api/v1/train", velocityhttp.TrainRequest{
				ArmID:    armID,
				Features: features,
				Reward:   &reward,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trained %s with reward %g\n", armID, reward)
			return nil
		},
	}
	cmd.Flags().StringVar(&armID, "arm", "", "arm (candidate) identifier (required)")
	cmd.Flags().Float64SliceVar(&features, "features", nil, "comma-separated feature vector (required)")
	cmd.Flags().Float64Var(&reward, "reward", 0, "observed reward (required)")
	_ = cmd.MarkFlagRequired("arm")
	_ = cmd.MarkFlagRequired("features")
	_ = cmd.MarkFlagRequired("reward")
	return cmd
}

func (c *cli) feedbackCmd() *cobra.Command {
	var (
		recommendationID string
		selectedID       string
		reward           float64
	)
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Report the outcome of a recommendation",
		Long: `Report which employee was actually assigned and the reward observed.
Each recommendation accepts feedback once.

Examples:
  velctl feedback --recommendation 0b9f... --selected emp-2 --reward 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := c.do(cmd.Context(), http.MethodPost, "/api/v1/feedback", velocityhttp.FeedbackRequest{
				RecommendationID:   recommendationID,
				SelectedEmployeeID: selectedID,
				ActualReward:       &reward,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Feedback recorded for %s\n", recommendationID)
			return nil
		},
	}
	cmd.Flags().StringVar(&recommendationID, "recommendation", "", "recommendation id from predict (required)")
	cmd.Flags().StringVar(&selectedID, "selected", "", "employee actually assigned (required)")
	cmd.Flags().Float64Var(&reward, "reward", 0, "observed reward (required)")
	_ = cmd.MarkFlagRequired("recommendation")
	_ = cmd.MarkFlagRequired("selected")
	_ = cmd.MarkFlagRequired("reward")
	return cmd
}

func (c *cli) armsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "arms [id]",
		Short: "List arms, or show one arm's parameters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				data, err := c.do(cmd.Context(), http.MethodGet, "/api/v1/arms/"+args[0], nil)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return writeRaw(out, data)
				}
				var arm bandit.ArmDetail
				if err := json.Unmarshal(data, &arm); err != nil {
					return fmt.Errorf("failed to decode response: %w", err)
				}
				fmt.Fprintf(out, "Arm:     %s\n", arm.ID)
				fmt.Fprintf(out, "Updates: %d\n", arm.Updates)
				fmt.Fprintf(out, "Theta:   %v\n", arm.Theta)
				fmt.Fprintf(out, "b:       %v\n", arm.B)
				return nil
			}

			data, err := c.do(cmd.Context(), http.MethodGet, "/api/v1/arms", nil)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return writeRaw(out, data)
			}
			var resp velocityhttp.ArmsResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ARM\tUPDATES\tUPDATED")
			for _, a := range resp.Arms {
				updated := "-"
				if !a.UpdatedAt.IsZero() {
					updated = a.UpdatedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", a.ID, a.Updates, updated)
			}
			return w.Flush()
		},
	}
}

func (c *cli) checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Export or restore the learned model",
	}

	save := &cobra.Command{
		Use:   "save [file]",
		Short: "Write the current checkpoint to a file, or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := c.do(cmd.Context(), http.MethodGet, "/api/v1/admin/checkpoint", nil)
			if err != nil {
				return err
			}
			if len(args) == 0 || args[0] == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(args[0], data, 0600); err != nil {
				return fmt.Errorf("failed to write %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Saved checkpoint to %s (%d bytes)\n", args[0], len(data))
			return nil
		},
	}

	restore := &cobra.Command{
		Use:   "restore [file]",
		Short: "Replace the server's model with a checkpoint from a file, or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return fmt.Errorf("no checkpoint to restore")
			}
			if _, err := c.do(cmd.Context(), http.MethodPost, "/api/v1/admin/restore", data); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Checkpoint restored")
			return nil
		},
	}

	cmd.AddCommand(save, restore)
	return cmd
}

func writeRaw(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		_, err := fmt.Fprintln(w)
		return err
	}
	return nil
}
