package github

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

type TokenSource string

const (
	TokenSourceExplicit TokenSource = "explicit"
	TokenSourceEnv      TokenSource = "env"
	TokenSourceCLI      TokenSource = "gh"
)

// tokenEnvVars are consulted in order after an explicit token.
var tokenEnvVars = []string{"ODATACHECK_GITHUB_TOKEN", "GITHUB_TOKEN", "GH_TOKEN"}

// ResolveToken finds a token for publishing reports: provided, then the
// environment, then `gh auth token`. An empty token with a nil error means
// none is available. The token is never logged.
func ResolveToken(ctx context.Context, provided string) (string, TokenSource, error) {
	if tok := strings.TrimSpace(provided); tok != "" {
		return tok, TokenSourceExplicit, nil
	}
	for _, name := range tokenEnvVars {
		if tok := strings.TrimSpace(os.Getenv(name)); tok != "" {
			return tok, TokenSourceEnv, nil
		}
	}

	tok, err := tokenFromCLI(ctx)
	if err != nil {
		return "", "", err
	}
	if tok != "" {
		return tok, TokenSourceCLI, nil
	}
	return "", "", nil
}

func tokenFromCLI(ctx context.Context) (string, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return "", nil
	}

	// A broken credential helper must not hang a validation run.
	cmdCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "gh", "auth", "token", "-h", "github.com")
	env := make([]string, 0, len(os.Environ())+1)
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, "GH_PAGER=") {
			env = append(env, entry)
		}
	}
	cmd.Env = append(env, "GH_PAGER=cat")

	out, err := cmd.Output()
	if err != nil {
		if cmdCtx.Err() != nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Not logged in, or gh failed: no token. Output is not surfaced.
		return "", nil
	}

	tok := strings.TrimSpace(string(out))
	if strings.ContainsAny(tok, " \t\n\r") {
		return "", errors.New("gh returned a malformed token")
	}
	return tok, nil
}
