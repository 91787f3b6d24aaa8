package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"identity-orchestrator/internal/api"
	"identity-orchestrator/internal/identity"
	"identity-orchestrator/internal/models"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control API and the identity evolution scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(app *App) error {
				if err := app.config.ValidateForServe(); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}

				closed, err := app.launches.CloseDangling(time.Now())
				if err != nil {
					return fmt.Errorf("failed to close dangling launches: %w", err)
				}
				if closed > 0 {
					app.logger.Info().Int64("count", closed).Msg("Closed launches left open by a previous run")
				}

				ctx := cmd.Context()
				go identity.NewEvolver(app.runner, &app.config.Identity, app.logger).Run(ctx)

				return api.NewServer(&app.config.API, app.runner, app.logger).Serve(ctx)
			})
		},
	}
}

func newLaunchCmd() *cobra.Command {
	var (
		chromium   string
		proxy      string
		userAgent  string
		extensions []string
		width      int
		height     int
		lang       string
		timezone   string
	)

	cmd := &cobra.Command{
		Use:   "launch <profile>",
		Short: "Launch a browser for a profile and wait until it exits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.LaunchRequest{
				ProfileID:    args[0],
				ChromiumPath: chromium,
				UserAgent:    userAgent,
				Extensions:   extensions,
			}
			if proxy != "" {
				p, err := models.ParseProxy(proxy)
				if err != nil {
					return err
				}
				req.Proxy = p
			}
			if width > 0 || height > 0 || lang != "" || timezone != "" {
				req.Fingerprint = &models.Fingerprint{
					ScreenWidth:  width,
					ScreenHeight: height,
					Language:     lang,
					Timezone:     timezone,
				}
			}

			return withApp(func(app *App) error {
				return runLaunch(cmd.Context(), app, req)
			})
		},
	}

	cmd.Flags().StringVar(&chromium, "chromium", "", "Browser executable (defaults to browser.chromium_path)")
	cmd.Flags().StringVar(&proxy, "proxy", "", "Upstream proxy, scheme://[user:pass@]host:port")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "User agent override")
	cmd.Flags().StringArrayVar(&extensions, "extension", nil, "Extra unpacked extension directory (repeatable)")
	cmd.Flags().IntVar(&width, "width", 0, "Window width")
	cmd.Flags().IntVar(&height, "height", 0, "Window height")
	cmd.Flags().StringVar(&lang, "lang", "", "Browser UI language")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone for a new identity")
	return cmd
}

func runLaunch(ctx context.Context, app *App, req models.LaunchRequest) error {
	exited := make(chan models.ProfileClosedEvent, 1)
	app.runner.OnProfileClosed(func(event models.ProfileClosedEvent) {
		if event.ProfileID == req.ProfileID {
			select {
			case exited <- event:
			default:
			}
		}
	})

	res := app.runner.LaunchProfile(req)
	if !res.Success {
		return fmt.Errorf("launch failed: %s", res.Error)
	}
	fmt.Printf("Launched %s (pid %d)\n", req.ProfileID, res.PID)

	select {
	case event := <-exited:
		printExit(event)
		return nil
	case <-ctx.Done():
	}

	app.logger.Info().Str("profileId", req.ProfileID).Msg("Stopping browser")
	if stop := app.runner.StopProfile(req.ProfileID); !stop.Success {
		return fmt.Errorf("stop failed: %s", stop.Error)
	}

	select {
	case event := <-exited:
		printExit(event)
	case <-time.After(10 * time.Second):
		return fmt.Errorf("browser for %s did not exit", req.ProfileID)
	}
	return nil
}

func printExit(event models.ProfileClosedEvent) {
	switch {
	case event.Requested:
		fmt.Printf("Browser for %s stopped\n", event.ProfileID)
	case event.ExitError != "":
		fmt.Printf("Browser for %s exited: %s\n", event.ProfileID, event.ExitError)
	default:
		fmt.Printf("Browser for %s closed\n", event.ProfileID)
	}
}

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Inspect and edit stored identities",
	}
	cmd.AddCommand(newIdentityShowCmd(), newIdentityMutateCmd(), newIdentityDeleteCmd(), newIdentityFieldsCmd())
	return cmd
}

func newIdentityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <profile>",
		Short: "Print a profile's identity as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(func(app *App) error {
				id, err := app.runner.Identity(args[0])
				if err != nil {
					return err
				}
				return printJSON(id)
			})
		},
	}
}

func newIdentityMutateCmd() *cobra.Command {
	var (
		reason string
		sets   []string
	)

	cmd := &cobra.Command{
		Use:   "mutate <profile>",
		Short: "Apply explicit trait changes, or natural evolution when none are given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := parseChanges(sets)
			if err != nil {
				return err
			}
			r := models.MutationReason(reason)
			if len(changes) == 0 && !cmd.Flags().Changed("reason") {
				r = models.ReasonNaturalEvolution
			}
			if !r.Valid() {
				return fmt.Errorf("unknown mutation reason %q", reason)
			}

			return withApp(func(app *App) error {
				id, err := app.runner.MutateIdentity(args[0], r, changes)
				if err != nil {
					return err
				}
				fmt.Printf("%s is now generation %d (consistency %d)\n", id.ProfileID, id.Generation, id.Consistency)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", string(models.ReasonUserRequested), "Mutation reason")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Trait change as field=value (repeatable)")
	return cmd
}

// parseChanges turns field=value pairs into a change set. Values are read as JSON when they parse, otherwise as strings.
func parseChanges(sets []string) (map[string]any, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	changes := make(map[string]any, len(sets))
	for _, set := range sets {
		field, raw, ok := strings.Cut(set, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid change %q, expected field=value", set)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		changes[field] = value
	}
	return changes, nil
}

func newIdentityDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <profile>",
		Short: "Delete a profile's identity and spoof bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(func(app *App) error {
				if err := app.runner.DeleteIdentity(args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted identity for %s\n", args[0])
				return nil
			})
		},
	}
}

func newIdentityFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the trait fields accepted by mutate",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			for _, f := range identity.Fields() {
				fmt.Println(f)
			}
			return nil
		},
	}
}

func newBundleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bundle <profile>",
		Short: "Regenerate a profile's spoof bundle and print its directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(func(app *App) error {
				dir, err := app.runner.RegenerateBundle(args[0])
				if err != nil {
					return err
				}
				fmt.Println(dir)
				return nil
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored identities and their latest launches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(app *App) error {
				return cmdStatus(cmd.Context(), app)
			})
		},
	}
}

// cmdStatus prints one row per identity with its latest launch
func cmdStatus(ctx context.Context, app *App) error {
	identities, err := app.runner.Identities(ctx)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}
	if len(identities) == 0 {
		fmt.Println("No identities stored")
		return nil
	}
	sort.Slice(identities, func(i, j int) bool { return identities[i].ProfileID < identities[j].ProfileID })

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROFILE\tGENERATION\tCONSISTENCY\tLAST MUTATED\tLAST LAUNCH")
	for _, id := range identities {
		last := "never"
		records, err := app.runner.History(id.ProfileID, 1)
		if err != nil {
			return fmt.Errorf("failed to load launches for %s: %w", id.ProfileID, err)
		}
		if len(records) > 0 {
			last = describeLaunch(records[0])
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			id.ProfileID, id.Generation, id.Consistency,
			id.LastMutatedAt.Local().Format(time.RFC3339), last)
	}
	return tw.Flush()
}

func describeLaunch(rec *models.LaunchRecord) string {
	started := rec.StartedAt.Local().Format(time.RFC3339)
	if rec.ClosedAt == nil {
		return started + " (pid " + strconv.Itoa(rec.PID) + ", open)"
	}
	d := rec.ClosedAt.Sub(rec.StartedAt).Round(time.Second)
	if rec.ExitError != "" {
		return fmt.Sprintf("%s (%s, %s)", started, d, rec.ExitError)
	}
	return fmt.Sprintf("%s (%s)", started, d)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
