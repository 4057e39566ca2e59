package users

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/fhirapi/internal/auth"
	"github.com/terraconstructs/fhirapi/internal/authz"
	"github.com/terraconstructs/fhirapi/internal/db/models"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
	"github.com/terraconstructs/fhirapi/internal/repository"
)

var (
	usernameFlag string
	passwordFlag string
	rolesInput   []string
	patientFlag  string
	orgFlag      string
	stdinFlag    bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a local user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if usernameFlag == "" {
			return fmt.Errorf("--username flag is required")
		}
		if len(rolesInput) == 0 {
			return fmt.Errorf("at least one role must be specified using --role")
		}

		password := passwordFlag
		if stdinFlag {
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Fprint(cmd.ErrOrStderr(), "Enter password: ")
			if scanner.Scan() {
				password = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
		}
		if password == "" {
			return fmt.Errorf("password is required (use --password or --stdin)")
		}

		req := auth.RegisterRequest{
			Username:       usernameFlag,
			Password:       password,
			Roles:          rolesInput,
			PatientID:      patientFlag,
			OrganizationID: orgFlag,
		}
		return withAuthenticator(func(a *auth.Authenticator, _ repository.UserRepository) error {
			user, err := a.Register(cmd.Context(), authz.System(), req)
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			printUser(cmd, user)
			return nil
		})
	},
}

func printUser(cmd *cobra.Command, user *models.User) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "User created successfully!")
	fmt.Fprintln(out, "----------------------------------------")
	fmt.Fprintf(out, "User ID: %s\n", user.ID)
	fmt.Fprintf(out, "Username: %s\n", user.Username)
	fmt.Fprintf(out, "Roles: %s\n", strings.Join(user.RoleNames(), ", "))
	if user.PatientID != nil {
		fmt.Fprintf(out, "Patient: %s\n", *user.PatientID)
	}
	if user.OrganizationID != nil {
		fmt.Fprintf(out, "Organization: %s\n", *user.OrganizationID)
	}
	fmt.Fprintln(out, "----------------------------------------")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAuthenticator(func(_ *auth.Authenticator, users repository.UserRepository) error {
			list, err := users.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, u := range list {
				status := "active"
				if u.Disabled() {
					status = "disabled"
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", u.ID, u.Username, strings.Join(u.RoleNames(), ","), status)
			}
			return nil
		})
	},
}

// demoUsers are the development accounts created by seed-demo.
var demoUsers = []auth.RegisterRequest{
	{Username: "admin", Password: "admin123", Roles: []string{"Admin"}},
	{Username: "doctor", Password: "doctor123", Roles: []string{"Clinician"}, OrganizationID: "org-001"},
	{Username: "patient", Password: "patient123", Roles: []string{"Patient"}, PatientID: "patient-001"},
}

var seedDemoCmd = &cobra.Command{
	Use:   "seed-demo",
	Short: "Create the admin, doctor and patient development accounts",
	Long:  `Creates well-known development accounts. Existing usernames are left untouched. Never run this against production.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAuthenticator(func(a *auth.Authenticator, _ repository.UserRepository) error {
			return seedDemoUsers(cmd.Context(), a, func(req auth.RegisterRequest, created bool) {
				state := "exists"
				if created {
					state = "created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s (%s)\n", state, req.Username, strings.Join(req.Roles, ","))
			})
		})
	},
}

// seedDemoUsers registers every demo account, skipping usernames that are
// already taken.
func seedDemoUsers(ctx context.Context, a *auth.Authenticator, report func(auth.RegisterRequest, bool)) error {
	for _, req := range demoUsers {
		_, err := a.Register(ctx, authz.System(), req)
		switch {
		case err == nil:
			report(req, true)
		case fhirerr.KindOf(err) == fhirerr.KindConflict:
			report(req, false)
		default:
			return fmt.Errorf("seed %s: %w", req.Username, err)
		}
	}
	return nil
}

func init() {
	createCmd.Flags().StringVar(&usernameFlag, "username", "", "Login name of the user")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the user (use --stdin to avoid shell history)")
	createCmd.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Role(s) to assign: Admin, Clinician, Patient or System (required)")
	createCmd.Flags().StringVar(&patientFlag, "patient-id", "", "Patient compartment of a Patient-role user")
	createCmd.Flags().StringVar(&orgFlag, "organization-id", "", "Organization of a Clinician-role user")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")
}
