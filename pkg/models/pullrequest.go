package models

// ChangeType describes how a file changed within a pull request.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// File is a single file within a pull request. Content is optional and is
// never populated for deleted files.
type File struct {
	Path       string     `json:"path"`
	Content    string     `json:"content,omitempty"`
	Diff       string     `json:"diff,omitempty"`
	ChangeType ChangeType `json:"change_type"`
	Language   string     `json:"language,omitempty"`
}

// PullRequest captures the change under review. It is immutable within a
// single analysis run.
type PullRequest struct {
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	BaseRef     string   `json:"base_ref"`
	TargetRef   string   `json:"target_ref"`
	Author      string   `json:"author,omitempty"`
	Files       []File   `json:"files,omitempty"`
	Commits     []string `json:"commits,omitempty"`
}

// Languages returns the distinct languages present in the PR file set,
// excluding deleted files.
func (pr *PullRequest) Languages() []string {
	seen := make(map[string]bool)
	var langs []string
	for _, f := range pr.Files {
		if f.ChangeType == ChangeDeleted || f.Language == "" {
			continue
		}
		if !seen[f.Language] {
			seen[f.Language] = true
			langs = append(langs, f.Language)
		}
	}
	return langs
}
