package auth

// Known OAuth scopes used by the feed API.
const (
	ScopeFeedRead = "feed:read"
	ScopeRunsRead = "runs:read"
)
