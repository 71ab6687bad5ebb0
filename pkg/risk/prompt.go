package risk

import (
	"fmt"
	"path/filepath"
	"strings"
)

// BuildPrompt renders the model prompt for one item. The template varies
// with the scan source: system directories, application data, or a
// user-chosen custom path.
func BuildPrompt(item ScanItem) string {
	sizeDesc := "unknown"
	if item.SizeBytes > 0 {
		sizeDesc = fmt.Sprintf("%.1f KB", float64(item.SizeBytes)/1024)
	}

	switch item.ScanSource {
	case "system":
		return fmt.Sprintf(`You are a file safety expert. Assess whether the following system path can be safely deleted.

## File information
- Path: %s
- Name: %s
- Parent directory: %s
- Size: %s

## Assessment criteria
- **safe, can be deleted**: temporary files, caches, logs, prefetch files
- **dangerous, keep**: system configuration, user data, important program files

Answer strictly in this JSON format:
{
    "risk_level": "safe/suspicious/dangerous",
    "confidence": 0.0-1.0,
    "reason": "short justification (50 words max)"
}
`, item.Path, item.DisplayName(), filepath.Dir(item.Path), sizeDesc)

	case "appdata":
		location := "Local"
		lower := strings.ToLower(item.Path)
		if strings.Contains(lower, "roaming") {
			location = "Roaming"
		} else if strings.Contains(lower, "locallow") {
			location = "LocalLow"
		}
		return fmt.Sprintf(`You are an application data safety expert. Assess the following path inside an application data directory.

## File information
- Path: %s
- Name: %s
- Directory type: %s (Roaming/Local/LocalLow)
- Size: %s

## Assessment criteria
- **safe, can be deleted**: caches (cache, temp, tmp), logs, backups
- **suspicious, needs confirmation**: data files (data, save, db, config), configuration
- **dangerous, keep**: sync settings, personal preferences, important data

## Common application traits
- Cache folders inside a browser's Roaming tree are usually safe
- Application data under Local is usually better kept

Answer strictly in this JSON format:
{
    "risk_level": "safe/suspicious/dangerous",
    "confidence": 0.0-1.0,
    "reason": "short justification (50 words max)"
}
`, item.Path, item.DisplayName(), location, sizeDesc)

	default:
		return fmt.Sprintf(`You are a file safety expert. Assess whether the following user-selected path can be safely deleted.

## File information
- Full path: %s
- Name: %s
- Extension: %s
- Size: %s

## Assessment criteria
- **safe, can be deleted**: temporary files, caches, logs, clearly named scratch directories
- **suspicious, needs confirmation**: ambiguous names, data files, configuration files
- **dangerous, keep**: important programs, user data, system files

## What to reason about
- The semantics of the file or folder name
- Where the path lives
- Any association with known applications

Answer strictly in this JSON format:
{
    "risk_level": "safe/suspicious/dangerous",
    "confidence": 0.0-1.0,
    "reason": "short justification (50 words max)"
}
`, item.Path, item.DisplayName(), filepath.Ext(item.Path), sizeDesc)
	}
}
