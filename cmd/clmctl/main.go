// Command clmctl is a small client for the CLM API: it stores the backend
// coordinates and the signed-in session locally and wraps the common calls.
package main

import (
	"fmt"
	"os"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"clmhub.io/internal/config"
	"clmhub.io/internal/session"
)

const stateFlag = "state"

var rootFlags = map[string]cobraflags.Flag{
	stateFlag: &cobraflags.StringFlag{
		Name:  stateFlag,
		Value: "",
		Usage: "Path of the local state file (defaults to the user config dir)",
	},
}

// env is resolved once per invocation from the state file.
type env struct {
	storage config.Storage
	client  *session.Client
}

func loadEnv() (*env, error) {
	storage, err := openStorage()
	if err != nil {
		return nil, fmt.Errorf("locate state file: %w", err)
	}
	coords, err := config.NewConnectionStore(storage).Require()
	if err != nil {
		return nil, err
	}
	return &env{
		storage: storage,
		client:  session.NewClient(coords, session.WithStorage(storage)),
	}, nil
}

func main() {
	root := &cobra.Command{
		Use:           "clmctl",
		Short:         "Command-line client for the CLM API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cobraflags.RegisterMap(root, rootFlags)
	root.AddCommand(
		newConfigCommand(),
		newSignUpCommand(),
		newSignInCommand(),
		newSignOutCommand(),
		newOnboardCommand(),
		newCompaniesCommand(),
		newContractsCommand(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "clmctl:", err)
		os.Exit(1)
	}
}
