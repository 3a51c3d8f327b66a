package suggest

import (
	"fmt"
	"strings"

	"github.com/amillerrr/gif-pipeline/pkg/models"
)

const systemPrompt = `You are an expert in converting video to animated GIF.

Task: analyse the video properties and the user's request, then propose 2-3
distinct GIF conversion schemes.

Principles:
1. Balance file size, visual quality and smoothness.
2. Scale high resolution sources down.
3. Use conservative parameters for long videos.
4. Size constraints must be achievable.

Reply with a JSON array only:
[{
  "name": "scheme name",
  "description": "what the scheme is for, including the expected size",
  "params": {
    "fps": integer 1-30,
    "quality": integer 50-100,
    "width": target width in pixels,
    "height": target height in pixels,
    "optimize": true or false
  },
  "size_constraint": {
    "operator": one of "<", "<=", ">", ">=", "=",
    "value": positive number,
    "unit": one of "B", "KB", "MB", "GB",
    "enabled": true or false
  }
}]

Rules:
- The reply must be valid JSON with exactly these fields.
- Schemes must differ noticeably.
- Constraints must be realistic.`

const defaultHint = "general purpose optimisation"

// buildPrompt returns the system and user messages for a completion.
func buildPrompt(props models.VideoProperties, hint string) (string, string) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		hint = defaultHint
	}

	user := fmt.Sprintf(`Video properties:
Resolution: %dx%d
Frame rate: %.1f fps, duration: %.1f s
File size: %.2f MB

User request: %s

Propose 2-3 GIF conversion schemes as a JSON array.`,
		props.Width, props.Height,
		props.FrameRate, props.DurationSeconds,
		float64(props.FileSizeBytes)/(1024*1024),
		hint,
	)
	return systemPrompt, user
}
