package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nasopt/dynas/internal/nasd"
)

func dialSearch(addr string) (*nasd.SearchClient, func() error, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return nasd.NewSearchClient(conn), conn.Close, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// watchUntilDone prints one line per snapshot until the stream ends
func watchUntilDone(ctx context.Context, cmd *cobra.Command, client *nasd.SearchClient, id string) error {
	w := cmd.OutOrStdout()
	var last map[string]any
	err := client.WatchSearch(ctx, id, func(msg map[string]any) error {
		s, _ := msg["search"].(map[string]any)
		last = s
		gens, _ := s["generations"].(float64)
		latest, _ := s["latest"].(map[string]any)
		fmt.Fprintf(w, "%s  %v  %d generations  hypervolume %v\n", id, s["status"], int(gens), latest["hypervolume"])
		return nil
	})
	if err != nil {
		return err
	}
	if last != nil {
		if msg, _ := last["error"].(string); msg != "" {
			return fmt.Errorf("search %s %v: %s", id, last["status"], msg)
		}
	}
	return nil
}

func newSubmitCmd() *cobra.Command {
	var (
		addr, configPath, id string
		noStart, watch      bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a search to a nasd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			client, closeConn, err := dialSearch(addr)
			if err != nil {
				return err
			}
			defer closeConn()

			ctx := cmd.Context()
			resp, err := client.CreateSearch(ctx, id, string(data), !noStart)
			if err != nil {
				return err
			}
			s, _ := resp["search"].(map[string]any)
			created, _ := s["id"].(string)
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %v\n", created, s["status"])
			if !watch || noStart {
				return nil
			}
			return watchUntilDone(ctx, cmd, client, created)
		},
	}
	cmd.Flags().StringVar(&addr, "server", "localhost:50051", "nasd gRPC address")
	cmd.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "Search configuration file")
	cmd.Flags().StringVar(&id, "id", "", "Search ID (generated by the daemon when empty)")
	cmd.Flags().BoolVar(&noStart, "no-start", false, "Create the search without starting it")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the search until it finishes")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		addr  string
		front bool
	)
	cmd := &cobra.Command{
		Use:   "watch <search-id>",
		Short: "Follow a search on a nasd daemon until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := dialSearch(addr)
			if err != nil {
				return err
			}
			defer closeConn()

			if err := watchUntilDone(cmd.Context(), cmd, client, args[0]); err != nil {
				return err
			}
			if !front {
				return nil
			}
			resp, err := client.GetFront(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&addr, "server", "localhost:50051", "nasd gRPC address")
	cmd.Flags().BoolVar(&front, "front", false, "Print the Pareto front once the search is done")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		secret, subject string
		ttl             time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the nasd HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := nasd.IssueToken([]byte(secret), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("NASD_JWT_SECRET"), "HS256 secret shared with nasd (default $NASD_JWT_SECRET)")
	cmd.Flags().StringVar(&subject, "subject", "dynas", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
