// Package browser opens the authorization page for interactive logins.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Open opens a URL in the default browser for the current platform
func Open(url string) error {
	candidates := commands(runtime.GOOS, url)
	if len(candidates) == 0 {
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	var lastErr error
	for _, c := range candidates {
		if lastErr = exec.Command(c[0], c[1:]...).Start(); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("could not open a browser, please visit the URL manually: %w", lastErr)
}

// commands lists launch commands to try in order.
func commands(goos, url string) [][]string {
	switch goos {
	case "darwin":
		return [][]string{{"open", url}}
	case "windows":
		return [][]string{{"rundll32", "url.dll,FileProtocolHandler", url}}
	case "linux", "freebsd", "openbsd", "netbsd":
		// Distros differ in which opener is installed.
		return [][]string{
			{"xdg-open", url},
			{"x-www-browser", url},
			{"www-browser", url},
		}
	default:
		return nil
	}
}
