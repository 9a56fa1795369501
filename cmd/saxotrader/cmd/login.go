package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"saxotrader/pkg/auth"
	"saxotrader/pkg/browser"
)

var noBrowser bool

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize with the broker and store tokens",
	Long: `Authorize with the broker using the authorization code flow.

The authorization page opens in your browser. After signing in, paste the
code (or the whole redirect URL) back into the terminal.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the authorization URL without opening a browser")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	session, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}

	authURL, err := session.AuthorizationURL(cfg.Scope, "")
	if errors.Is(err, auth.ErrAlreadyAuthenticated) {
		fmt.Println("✅ Already authenticated. Run 'saxotrader logout' first to authorize again.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("🔐 Environment: %s\n\n", cfg.Environment)
	if noBrowser {
		fmt.Printf("Visit this URL to authorize:\n%s\n\n", authURL)
	} else if err := browser.Open(authURL); err != nil {
		fmt.Fprintf(os.Stderr, "Could not open browser: %v\n", err)
		fmt.Printf("\nPlease visit this URL manually:\n%s\n\n", authURL)
	} else {
		fmt.Printf("If browser doesn't open, visit:\n%s\n\n", authURL)
	}

	fmt.Print("Paste the authorization code or redirect URL: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}

	code, state := parsePastedCode(line)
	if code == "" {
		return errors.New("no authorization code entered")
	}

	if err := exchange(ctx, session, code, state); err != nil {
		return err
	}

	st := session.Status()
	fmt.Printf("\n✅ Authentication successful!\n")
	if st.AccessTokenExpiresAt != nil {
		fmt.Printf("✅ Access token valid until %s\n", st.AccessTokenExpiresAt.Local().Format("2006-01-02 15:04:05"))
	}
	if st.RefreshTokenExpiresAt != nil {
		fmt.Printf("✅ Refresh token valid until %s\n", st.RefreshTokenExpiresAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func exchange(ctx context.Context, session *auth.Session, code, state string) error {
	var err error
	if state != "" {
		_, err = session.HandleCallback(ctx, code, state)
	} else {
		_, err = session.ExchangeCode(ctx, code)
	}
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}
	return nil
}

// parsePastedCode accepts either a bare code or a redirect URL carrying
// code and state query parameters.
func parsePastedCode(input string) (code, state string) {
	input = strings.TrimSpace(input)
	if !strings.Contains(input, "code=") {
		return input, ""
	}

	raw := input
	if i := strings.Index(input, "?"); i >= 0 {
		raw = input[i+1:]
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return "", ""
	}
	return q.Get("code"), q.Get("state")
}
