package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/example/appauth/internal/domain"
	"github.com/example/appauth/internal/registry"
	"github.com/example/appauth/internal/store"
)

func newAppCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "app",
		Short:   "Manage registered applications",
		Aliases: []string{"apps"},
	}
	cmd.AddCommand(newAppCreateCmd(open))
	return cmd
}

type credentials struct {
	ApplicationID int64    `json:"application_id"`
	Name          string   `json:"name"`
	ClientID      string   `json:"client_id"`
	ClientSecret  string   `json:"client_secret"`
	Scopes        []string `json:"allowed_scopes"`
	RateLimit     int      `json:"rate_limit"`
}

func newAppCreateCmd(open opener) *cobra.Command {
	var (
		name, user, description, save string
		scopes, callbacks             []string
		rateLimit                     int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new application and print its credentials",
		Long:  `Registers an application for an existing user. The client secret is printed once and cannot be recovered afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			if user == "" {
				return errors.New("--user is required")
			}
			ctx := cmd.Context()
			s, _, err := open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			owner, err := findUser(ctx, s, user)
			if err != nil {
				return err
			}
			app, secret, err := registry.New(s).Create(ctx, owner, registry.CreateParams{
				Name:         name,
				Description:  description,
				Scopes:       scopes,
				RateLimit:    rateLimit,
				CallbackURLs: callbacks,
			})
			if err != nil {
				var ve *domain.ValidationError
				if errors.As(err, &ve) {
					return fmt.Errorf("invalid application: %s", ve.Error())
				}
				return err
			}

			creds := credentials{
				ApplicationID: app.ID,
				Name:          app.Name,
				ClientID:      app.ClientID,
				ClientSecret:  secret,
				Scopes:        app.AllowedScopes,
				RateLimit:     app.RateLimit,
			}
			out := cmd.OutOrStdout()
			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Field", "Value"})
			t.AppendRows([]table.Row{
				{"Application ID", creds.ApplicationID},
				{"Name", creds.Name},
				{"Owner", owner.Email},
				{"Client ID", creds.ClientID},
				{"Client Secret", creds.ClientSecret},
				{"Scopes", strings.Join(creds.Scopes, ", ")},
				{"Rate Limit", fmt.Sprintf("%d/hour", creds.RateLimit)},
			})
			t.Render()
			fmt.Fprintln(out, text.FgYellow.Sprint("Store the client secret securely. It will not be shown again."))

			if save != "" {
				data, err := json.MarshalIndent(creds, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(save, data, 0o600); err != nil {
					return fmt.Errorf("saving credentials: %w", err)
				}
				fmt.Fprintf(out, "Credentials saved to %s\n", save)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "application name")
	cmd.Flags().StringVar(&user, "user", "", "owner user id or email")
	cmd.Flags().StringVar(&description, "description", "", "application description")
	cmd.Flags().StringSliceVar(&scopes, "scopes", []string{domain.DefaultScope}, "allowed scopes")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", registry.DefaultRateLimit, "requests per hour")
	cmd.Flags().StringSliceVar(&callbacks, "callback", nil, "callback URL (repeatable)")
	cmd.Flags().StringVar(&save, "save", "", "write the credentials to this JSON file")
	return cmd
}

// findUser resolves ref as a numeric id first, then as an email.
func findUser(ctx context.Context, s store.Store, ref string) (*domain.User, error) {
	var (
		u   *domain.User
		err error
	)
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		u, err = s.GetUserByID(ctx, id)
	} else {
		u, err = s.GetUserByEmail(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %q not found", ref)
	}
	return u, nil
}
