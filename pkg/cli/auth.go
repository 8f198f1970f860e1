package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mchmarny/sejctl/pkg/auth"
	"github.com/urfave/cli/v3"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
)

const (
	tokenFileName  = "fetch_token"
	keyringService = appName
	keyringUser    = "fetch_token"
)

var (
	clientIDFlag = &cli.StringFlag{
		Name:    "client-id",
		Usage:   "OAuth app client ID used for the device flow",
		Sources: cli.EnvVars("SEJCTL_CLIENT_ID"),
	}

	authCmd = &cli.Command{
		Name:            "auth",
		HideHelpCommand: true,
		Usage:           "Manage the token sent when importing project files by URL",
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Obtain a token with the GitHub device flow",
				Flags:  []cli.Flag{clientIDFlag},
				Action: cmdAuthLogin,
			},
			{
				Name:      "token",
				Usage:     "Store a token read from the argument or stdin",
				ArgsUsage: "[TOKEN]",
				Action:    cmdAuthToken,
			},
			{
				Name:   "logout",
				Usage:  "Remove the stored token",
				Action: cmdAuthLogout,
			},
		},
	}
)

func cmdAuthLogin(ctx context.Context, cmd *cli.Command) error {
	f, err := auth.NewDeviceFlow(cmd.String(clientIDFlag.Name), oauth2.Endpoint{})
	if err != nil {
		return fmt.Errorf("--client-id or SEJCTL_CLIENT_ID: %w", err)
	}
	da, err := f.Start(ctx)
	if err != nil {
		return err
	}

	w := writer(cmd)
	fmt.Fprintf(w, "1). Copy this code: %s\n", da.UserCode)
	fmt.Fprintf(w, "2). Navigate to this URL in your browser to authenticate: %s\n", da.VerificationURI)
	fmt.Fprintln(w, "3). Waiting for approval...")

	t, err := f.Wait(ctx, da)
	if err != nil {
		return err
	}
	if err := saveFetchToken(getConfig(cmd).Home, t.AccessToken); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	fmt.Fprintln(w, "Token saved")
	return nil
}

func cmdAuthToken(_ context.Context, cmd *cli.Command) error {
	token := strings.TrimSpace(cmd.Args().First())
	if token == "" {
		r := cmd.Root().Reader
		if r == nil {
			r = os.Stdin
		}
		line, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading token: %w", err)
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		return errors.New("token required")
	}
	return saveFetchToken(getConfig(cmd).Home, token)
}

func cmdAuthLogout(_ context.Context, cmd *cli.Command) error {
	if err := keyring.Delete(keyringService, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		slog.Debug("keychain delete failed", "error", err)
	}
	p := filepath.Join(getConfig(cmd).Home, tokenFileName)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", p, err)
	}
	return nil
}

// saveFetchToken stores the token in the OS keychain, or a file under home
// when no keychain is available.
func saveFetchToken(home, token string) error {
	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		slog.Warn("keychain unavailable, falling back to file", "error", err)
		return os.WriteFile(filepath.Join(home, tokenFileName), []byte(token), 0600)
	}
	os.Remove(filepath.Join(home, tokenFileName))
	return nil
}

func getFetchToken(home string) (string, error) {
	token, err := keyring.Get(keyringService, keyringUser)
	if err == nil && token != "" {
		return token, nil
	}

	p := filepath.Join(home, tokenFileName)
	b, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("reading token file %s: %w", p, err)
	}
	token = strings.TrimSpace(string(b))

	// move to keychain when it became available
	if err := keyring.Set(keyringService, keyringUser, token); err == nil {
		slog.Info("migrated token from file to OS keychain")
		os.Remove(p)
	}
	return token, nil
}
