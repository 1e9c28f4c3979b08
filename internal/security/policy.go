package security

import (
	"github.com/google/cel-go/cel"
	"github.com/rs/zerolog"
)

// celPolicy compiles a SecurityPolicy's CELRules once and evaluates them
// against each pending invocation. This is the home found for cel-go
// (a teacher dependency otherwise unexercised): it gives the operator a
// composable, inspectable rule surface on top of the fixed regex/path
// checks, without open-coding ad hoc Go conditionals for every
// installation's custom policy.
type celPolicy struct {
	env      *cel.Env
	programs []cel.Program
	logger   zerolog.Logger
}

func newCELPolicy(rules []string, logger zerolog.Logger) *celPolicy {
	env, err := cel.NewEnv(
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("permission_level", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		logger.Error().Err(err).Msg("failed to construct CEL environment, custom policy rules disabled")
		return &celPolicy{logger: logger}
	}

	p := &celPolicy{env: env, logger: logger}
	for _, rule := range rules {
		ast, issues := env.Compile(rule)
		if issues != nil && issues.Err() != nil {
			logger.Warn().Str("rule", rule).Err(issues.Err()).Msg("skipping unparseable CEL policy rule")
			continue
		}
		prg, err := env.Program(ast)
		if err != nil {
			logger.Warn().Str("rule", rule).Err(err).Msg("skipping uncompileable CEL policy rule")
			continue
		}
		p.programs = append(p.programs, prg)
	}
	return p
}

// matches reports whether any compiled rule evaluates to true for the
// given invocation. Evaluation errors are treated as non-matches — a
// malformed rule must never itself become a denial-of-service vector.
func (p *celPolicy) matches(toolName, permissionLevel string, args map[string]any) bool {
	if p == nil {
		return false
	}
	activation := map[string]any{
		"tool_name":        toolName,
		"permission_level": permissionLevel,
		"args":             args,
	}
	for _, prg := range p.programs {
		out, _, err := prg.Eval(activation)
		if err != nil {
			p.logger.Debug().Err(err).Msg("CEL policy rule evaluation error, treating as no-match")
			continue
		}
		if b, ok := out.Value().(bool); ok && b {
			return true
		}
	}
	return false
}
