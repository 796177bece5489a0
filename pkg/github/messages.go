package github

import (
	"fmt"

	"github.com/Romamo/forkscout-sub000/pkg/breaker"
	"github.com/Romamo/forkscout-sub000/pkg/progress"
)

// UserFriendlyMessage converts a classified error into a message
// suitable for terminal output.
func UserFriendlyMessage(err error) string {
	if err == nil {
		return ""
	}

	if breaker.IsOpen(err) {
		return "GitHub API is failing repeatedly; pausing requests for a cooldown period"
	}

	apiErr := AsAPIError(err)
	if apiErr == nil {
		return err.Error()
	}

	switch apiErr.Kind {
	case KindAuthentication:
		return "GitHub authentication failed. Check that GITHUB_TOKEN is set to a valid token"
	case KindNotFound:
		if apiErr.Repository != "" {
			return fmt.Sprintf("Repository '%s' not found", apiErr.Repository)
		}
		return "Resource not found"
	case KindPrivateRepository:
		if apiErr.Repository != "" {
			return fmt.Sprintf("Repository '%s' not found or is private", apiErr.Repository)
		}
		return "Repository not found or is private"
	case KindEmptyRepository:
		if apiErr.Repository != "" {
			return fmt.Sprintf("Repository '%s' has no commits", apiErr.Repository)
		}
		return "Repository has no commits"
	case KindForkAccess:
		if apiErr.ForkURL != "" {
			return fmt.Sprintf("Fork '%s' is not accessible, skipping", apiErr.ForkURL)
		}
		return "Fork is not accessible, skipping"
	case KindRateLimit:
		if apiErr.RateLimit.HasReset() {
			return fmt.Sprintf("GitHub rate limit reached, resets in %s",
				progress.FormatDuration(apiErr.RateLimit.TimeUntilReset()))
		}
		return "GitHub rate limit reached"
	case KindTimeout:
		return "Request timed out"
	default:
		return fmt.Sprintf("GitHub API error: %s", apiErr.Message)
	}
}
