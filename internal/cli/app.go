package cli

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/toolforge/mcpcore/internal/logging"
	"github.com/toolforge/mcpcore/internal/orchestrator"
	"github.com/toolforge/mcpcore/internal/provider"
	"github.com/toolforge/mcpcore/internal/security"
	"github.com/toolforge/mcpcore/internal/types"
)

// trustTokenEnv names the environment variable a bearer token for trust
// level resolution is read from; trustSecretEnv names the HMAC secret the
// token was signed with. Both are optional: an absent token leaves the
// session at the untrusted default.
const (
	trustTokenEnv  = "MCPCORE_TRUST_TOKEN"
	trustSecretEnv = "MCPCORE_TRUST_SECRET"
)

// newOrchestrator wires a default-config Orchestrator with one external
// server spawned from argv, for the demo subcommands below. A real host
// would instead build OrchestratorConfig from its own configuration
// loader (out of scope here, §1).
func newOrchestrator(serverID string, argv []string) (*orchestrator.Orchestrator, error) {
	logger := logging.New(logging.DefaultConfig())
	cfg := types.DefaultOrchestratorConfig()
	o := orchestrator.New(cfg, logger)
	o.SetConfirmationHandler(readlineConfirmationHandler())

	if token, secret := os.Getenv(trustTokenEnv), os.Getenv(trustSecretEnv); token != "" && secret != "" {
		verifier := security.NewTrustVerifier([]byte(secret))
		if err := o.AuthenticateTrustLevel(verifier, token); err != nil {
			logger.Warn().Err(err).Msg("trust token rejected, session stays untrusted")
		}
	}

	if len(argv) > 0 {
		if err := o.RegisterExternalServers([]provider.ExternalConfig{{
			ServerID: serverID,
			Command:  argv[0],
			Args:     argv[1:],
			Env:      os.Environ(),
		}}); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// splitArgs is a small helper used by subcommands that take a trailing
// "-- command args..." form via pflag's ArgsLenAtDash.
func splitArgs(flags *pflag.FlagSet, args []string) []string {
	dash := flags.ArgsLenAtDash()
	if dash < 0 {
		return args
	}
	return args[dash:]
}
