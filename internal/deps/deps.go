// Package deps reports the availability of the external tools scriberd
// shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"scriberd/internal/config"
)

// Requirement defines an external binary scriberd relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Default returns the tool set for the given configuration. ffprobe and
// aria2c are optional: media validation degrades to a size check without
// ffprobe, and aria2c is only used as the fallback external downloader.
func Default(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{
			Name:        "yt-dlp",
			Command:     cfg.Download.Binary,
			Description: "Fetches remote media",
		},
		{
			Name:        "whisper",
			Command:     cfg.Whisper.Binary,
			Description: "Transcribes media to text",
		},
		{
			Name:        "ffprobe",
			Command:     cfg.Download.FFprobeBinary,
			Description: "Validates downloaded media duration",
			Optional:    true,
		},
		{
			Name:        "aria2c",
			Command:     "aria2c",
			Description: "External downloader fallback for stubborn hosts",
			Optional:    true,
		},
	}
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Command = resolved
		status.Available = true
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of unavailable non-optional tools.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, status := range statuses {
		if !status.Optional && !status.Available {
			missing = append(missing, status.Name)
		}
	}
	return missing
}
