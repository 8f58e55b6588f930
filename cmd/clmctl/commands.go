package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"clmhub.io/internal/company"
	"clmhub.io/internal/config"
	"clmhub.io/internal/contracts"
)

const (
	urlFlag      = "url"
	keyFlag      = "key"
	emailFlag    = "email"
	passwordFlag = "password"
	nameFlag     = "name"
	companyFlag  = "company"
	statusFlag   = "status"
	searchFlag   = "search"
)

func openStorage() (config.Storage, error) {
	if path := rootFlags[stateFlag].GetString(); path != "" {
		return config.NewFileStorage(path), nil
	}
	return config.DefaultFileStorage()
}

func newConfigCommand() *cobra.Command {
	setFlags := map[string]cobraflags.Flag{
		urlFlag: &cobraflags.StringFlag{Name: urlFlag, Usage: "API base URL"},
		keyFlag: &cobraflags.StringFlag{Name: keyFlag, Usage: "API key sent as the apikey header"},
	}
	set := &cobra.Command{
		Use:   "set",
		Short: "Store the API URL and key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			storage, err := openStorage()
			if err != nil {
				return err
			}
			store := config.NewConnectionStore(storage)
			coords := store.Get()
			if v := strings.TrimSpace(setFlags[urlFlag].GetString()); v != "" {
				coords.URL = v
			}
			if v := strings.TrimSpace(setFlags[keyFlag].GetString()); v != "" {
				coords.APIKey = v
			}
			return store.Set(coords)
		},
	}
	cobraflags.RegisterMap(set, setFlags)

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the resolved API URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			storage, err := openStorage()
			if err != nil {
				return err
			}
			coords := config.NewConnectionStore(storage).Get()
			fmt.Fprintln(cmd.OutOrStdout(), coords.URL)
			return nil
		},
	}

	cmd := &cobra.Command{Use: "config", Short: "Manage the API connection"}
	cmd.AddCommand(set, get)
	return cmd
}

func credentialFlags(withName bool) map[string]cobraflags.Flag {
	flags := map[string]cobraflags.Flag{
		emailFlag:    &cobraflags.StringFlag{Name: emailFlag, Usage: "Account email"},
		passwordFlag: &cobraflags.StringFlag{Name: passwordFlag, Usage: "Account password (defaults to CLM_PASSWORD)", Value: os.Getenv("CLM_PASSWORD")},
	}
	if withName {
		flags[nameFlag] = &cobraflags.StringFlag{Name: nameFlag, Usage: "Full name"}
	}
	return flags
}

func newSignUpCommand() *cobra.Command {
	flags := credentialFlags(true)
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			s, err := e.client.SignUp(cmd.Context(), flags[emailFlag].GetString(), flags[passwordFlag].GetString(), flags[nameFlag].GetString())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed up as %s\n", s.User.Email)
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newSignInCommand() *cobra.Command {
	flags := credentialFlags(false)
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			s, err := e.client.SignIn(cmd.Context(), flags[emailFlag].GetString(), flags[passwordFlag].GetString())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s until %s\n", s.User.Email, s.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newSignOutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			return e.client.SignOut()
		},
	}
}

// newOnboardCommand records the first company step and replays it once signed in.
func newOnboardCommand() *cobra.Command {
	create := &cobra.Command{
		Use:   "create <company name>",
		Short: "Queue creating a company",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := company.BuildCreateOrgAction(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return queueAndResume(cmd, action)
		},
	}
	join := &cobra.Command{
		Use:   "join <invite code>",
		Short: "Queue joining a company by invite code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := company.BuildJoinOrgAction(args[0])
			if err != nil {
				return err
			}
			return queueAndResume(cmd, action)
		},
	}
	resume := &cobra.Command{
		Use:   "resume",
		Short: "Submit the queued onboarding step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			return e.resumeOnboarding(cmd)
		},
	}
	cmd := &cobra.Command{Use: "onboard", Short: "Create or join your first company"}
	cmd.AddCommand(create, join, resume)
	return cmd
}

func queueAndResume(cmd *cobra.Command, action company.Action) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if err := company.NewPendingStore(e.storage).Save(action); err != nil {
		return err
	}
	if _, err := e.client.Session(); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "queued; run `clmctl onboard resume` after signing in")
		return nil
	}
	return e.resumeOnboarding(cmd)
}

func (e *env) resumeOnboarding(cmd *cobra.Command) error {
	pending := company.NewPendingStore(e.storage)
	action, ok := pending.Load()
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing queued")
		return nil
	}
	s, err := e.client.Session()
	if err != nil {
		return err
	}

	var companyID string
	switch action.Type {
	case company.ActionCreateOrg:
		var summary company.Summary
		if err := e.client.Do(cmd.Context(), http.MethodPost, "/v1/companies", map[string]any{"name": action.CompanyName}, &summary); err != nil {
			return err
		}
		companyID = summary.Company.ID
	case company.ActionJoinOrg:
		var out struct {
			CompanyID string `json:"company_id"`
		}
		if err := e.client.Do(cmd.Context(), http.MethodPost, "/functions/v1/invite-user", map[string]any{
			"mode":        "join_by_invite_code",
			"invite_code": action.InviteCode,
		}, &out); err != nil {
			return err
		}
		companyID = out.CompanyID
	}
	if err := pending.Clear(); err != nil {
		return err
	}
	if err := company.NewActiveSelection(e.storage).Remember(s.User.ID, companyID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "active company: %s\n", companyID)
	return nil
}

func (e *env) myCompanies(cmd *cobra.Command) ([]company.Summary, error) {
	var out struct {
		Companies []company.Summary `json:"companies"`
	}
	if err := e.client.Do(cmd.Context(), http.MethodGet, "/v1/me/companies", nil, &out); err != nil {
		return nil, err
	}
	return out.Companies, nil
}

func newCompaniesCommand() *cobra.Command {
	list := &cobra.Command{
		Use:   "list",
		Short: "List your companies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			companies, err := e.myCompanies(cmd)
			if err != nil {
				return err
			}
			s, err := e.client.Session()
			if err != nil {
				return err
			}
			active, _ := company.NewActiveSelection(e.storage).Resolve(s.User.ID, companies)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tID\tNAME\tADMIN")
			for _, c := range companies {
				marker := ""
				if c.Company.ID == active.Company.ID {
					marker = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", marker, c.Company.ID, c.Company.Name, c.Membership.IsAdmin)
			}
			return tw.Flush()
		},
	}
	use := &cobra.Command{
		Use:   "use <company id>",
		Short: "Make a company the default for other commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			companies, err := e.myCompanies(cmd)
			if err != nil {
				return err
			}
			s, err := e.client.Session()
			if err != nil {
				return err
			}
			for _, c := range companies {
				if c.Company.ID == args[0] {
					return company.NewActiveSelection(e.storage).Remember(s.User.ID, c.Company.ID)
				}
			}
			return fmt.Errorf("not a member of company %s", args[0])
		},
	}
	cmd := &cobra.Command{Use: "companies", Short: "Work with your companies"}
	cmd.AddCommand(list, use)
	return cmd
}

func newContractsCommand() *cobra.Command {
	flags := map[string]cobraflags.Flag{
		companyFlag: &cobraflags.StringFlag{Name: companyFlag, Usage: "Company id (defaults to the active company)"},
		statusFlag:  &cobraflags.StringFlag{Name: statusFlag, Usage: "Only contracts in this status"},
		searchFlag:  &cobraflags.StringFlag{Name: searchFlag, Usage: "Match title or counterparty"},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List contracts of a company",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			companyID := flags[companyFlag].GetString()
			if companyID == "" {
				companies, err := e.myCompanies(cmd)
				if err != nil {
					return err
				}
				s, err := e.client.Session()
				if err != nil {
					return err
				}
				active, ok := company.NewActiveSelection(e.storage).Resolve(s.User.ID, companies)
				if !ok {
					return errors.New("no active company; pass --company or run `clmctl companies use`")
				}
				companyID = active.Company.ID
			}

			q := url.Values{}
			if v := flags[statusFlag].GetString(); v != "" {
				q.Set("status", v)
			}
			if v := flags[searchFlag].GetString(); v != "" {
				q.Set("search", v)
			}
			path := "/v1/companies/" + url.PathEscape(companyID) + "/contracts"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var page contracts.Page
			if err := e.client.Do(cmd.Context(), http.MethodGet, path, nil, &page); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tSTATUS")
			for _, c := range page.Contracts {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.Title, c.Status)
			}
			fmt.Fprintf(tw, "\t%d total\t\n", page.Total)
			return tw.Flush()
		},
	}
	cobraflags.RegisterMap(list, flags)

	cmd := &cobra.Command{Use: "contracts", Short: "Work with contracts"}
	cmd.AddCommand(list)
	return cmd
}
