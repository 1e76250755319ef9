// Package locate finds the game's chat log directory on Linux installs.
package locate

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrNotFound is returned when no candidate directory holds chat logs
var ErrNotFound = errors.New("chat log directory not found")

// steamAppID is the game's Steam application id, used by Proton prefixes
const steamAppID = "8500"

// Resolver probes well-known install locations
type Resolver struct {
	home     string
	username string
	logger   *zap.Logger
}

// NewResolver creates a resolver for the current user
func NewResolver(logger *zap.Logger) (*Resolver, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine home directory: %w", err)
	}

	username := os.Getenv("USER")
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	return NewResolverFor(home, username, logger), nil
}

// NewResolverFor creates a resolver for an explicit home directory and user
func NewResolverFor(home, username string, logger *zap.Logger) *Resolver {
	return &Resolver{home: home, username: username, logger: logger}
}

// Candidates lists the probed directories in order
func (r *Resolver) Candidates() []string {
	chatlogs := func(parts ...string) string {
		return filepath.Join(append(append([]string{r.home}, parts...), "Documents", "EVE", "logs", "Chatlogs")...)
	}
	proton := []string{"steamapps", "compatdata", steamAppID, "pfx", "drive_c", "users", "steamuser"}

	return []string{
		// Native client
		filepath.Join(r.home, ".local", "share", "CCP", "EVE", "logs", "Chatlogs"),

		// Steam / Proton
		chatlogs(append([]string{".steam", "steam"}, proton...)...),
		chatlogs(append([]string{".local", "share", "Steam"}, proton...)...),

		// Lutris
		chatlogs("Games", "eve-online", "drive_c", "users", r.username),
		chatlogs("Games", "eve-online", "drive_c", "users", "user"),
		chatlogs("Games", "EVE", "drive_c", "users", r.username),

		// Plain Wine prefix
		chatlogs(".wine", "drive_c", "users", r.username),
		chatlogs(".wine", "drive_c", "users", "user"),

		// PlayOnLinux and Bottles
		chatlogs(".PlayOnLinux", "wineprefix", "EVE", "drive_c", "users", r.username),
		chatlogs(".local", "share", "bottles", "bottles", "EVE", "drive_c", "users", r.username),

		// Flatpak Steam
		chatlogs(append([]string{".var", "app", "com.valvesoftware.Steam", "home", ".steam", "steam"}, proton...)...),

		filepath.Join(r.home, "Documents", "EVE", "logs", "Chatlogs"),
		filepath.Join(r.home, "EVE", "logs", "Chatlogs"),
	}
}

// Resolve returns override when it names an existing directory, otherwise the
// first candidate holding at least one chat log
func (r *Resolver) Resolve(override string) (string, error) {
	if override != "" {
		if info, err := os.Stat(override); err == nil && info.IsDir() {
			r.logger.Info("Using configured chat log directory", zap.String("dir", override))
			return override, nil
		}
		r.logger.Warn("Configured chat log directory not found, probing defaults", zap.String("dir", override))
	}

	candidates := r.Candidates()
	for _, dir := range candidates {
		r.logger.Debug("Checking chat log directory", zap.String("dir", dir))
		n := countChatLogs(dir)
		if n == 0 {
			continue
		}
		r.logger.Info("Found chat log directory", zap.String("dir", dir), zap.Int("files", n))
		return dir, nil
	}

	return "", fmt.Errorf("%w; set logs_path or enable chat logging in the game client (checked %d locations)", ErrNotFound, len(candidates))
}

// countChatLogs counts the .txt files with an underscore in their name.
// Unreadable directories count as empty.
func countChatLogs(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	n := 0
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasSuffix(name, ".txt") && strings.Contains(name, "_") {
			n++
		}
	}
	return n
}
