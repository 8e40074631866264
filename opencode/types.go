package opencode

// Time holds the millisecond timestamps opencode attaches to records
type Time struct {
	Created int64 `json:"created,omitempty"`
	Updated int64 `json:"updated,omitempty"`
}

// Session is the subset of an opencode session the bot relies on
type Session struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectID,omitempty"`
	Directory string `json:"directory"`
	Title     string `json:"title,omitempty"`
	Time      Time   `json:"time"`
}

// Project is an opencode project record
type Project struct {
	ID       string `json:"id"`
	Worktree string `json:"worktree"`
	VCS      string `json:"vcs,omitempty"`
	Time     Time   `json:"time"`
}

// PathInfo describes where the opencode server keeps its files
type PathInfo struct {
	Home      string `json:"home,omitempty"`
	State     string `json:"state,omitempty"`
	Config    string `json:"config,omitempty"`
	Worktree  string `json:"worktree,omitempty"`
	Directory string `json:"directory,omitempty"`
}

// Health is the response of the health endpoint
type Health struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version,omitempty"`
}

// ListSessionsParams filters the session list. Start is a lower bound on
// the session's update time in milliseconds; nil means no filter.
type ListSessionsParams struct {
	Limit int
	Start *int64
}
