package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"folio/internal/config"
)

// Requirement defines an external dependency folio relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the external binaries the configured backends invoke.
// scanimage is only mandatory when the SANE backend is selected.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	return []Requirement{
		{
			Name:        "scanimage",
			Command:     cfg.Scanner.Binary,
			Description: "SANE command line frontend used to enumerate and drive scanners",
			Optional:    cfg.Scanner.Backend != "sane",
		},
	}
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
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if _, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// CheckTessdata reports whether a traineddata file exists for each tesseract
// language below prefix. An empty prefix checks the usual system locations.
func CheckTessdata(prefix string, languages []string) []Status {
	dirs := []string{prefix}
	if strings.TrimSpace(prefix) == "" {
		dirs = []string{
			"/usr/share/tesseract-ocr/5/tessdata",
			"/usr/share/tesseract-ocr/4.00/tessdata",
			"/usr/share/tessdata",
			"/usr/local/share/tessdata",
		}
	}
	results := make([]Status, 0, len(languages))
	for _, lang := range languages {
		status := Status{
			Name:        "tessdata:" + lang,
			Description: "tesseract model for " + lang,
			Optional:    true,
		}
		for _, dir := range dirs {
			candidate := filepath.Join(dir, lang+".traineddata")
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				status.Available = true
				status.Command = candidate
				break
			}
		}
		if !status.Available {
			status.Detail = fmt.Sprintf("%s.traineddata not found", lang)
		}
		results = append(results, status)
	}
	return results
}
