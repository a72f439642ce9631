// Package language infers file and repository languages for tool selection
// and repository metadata.
package language

import (
	"path"
	"sort"

	"github.com/src-d/enry/v2"

	"github.com/haasonsaas/reviewd/pkg/models"
)

// DetectFile returns the language of a single file. Content may be nil;
// detection then falls back to filename heuristics. Vendored paths return
// the empty string.
func DetectFile(filePath string, content []byte) string {
	if enry.IsVendor(filePath) {
		return ""
	}
	lang := enry.GetLanguage(path.Base(filePath), content)
	if lang == enry.OtherLanguage {
		return ""
	}
	return lang
}

// AnnotateFiles fills the Language field of each PR file that lacks one.
// Deleted files are annotated from their path only.
func AnnotateFiles(files []models.File) {
	for i := range files {
		if files[i].Language != "" {
			continue
		}
		var content []byte
		if files[i].ChangeType != models.ChangeDeleted && files[i].Content != "" {
			content = []byte(files[i].Content)
		}
		files[i].Language = DetectFile(files[i].Path, content)
	}
}

// ByteMap aggregates language byte counts across a file set.
func ByteMap(files []models.File) map[string]int64 {
	langs := make(map[string]int64)
	for _, f := range files {
		if f.ChangeType == models.ChangeDeleted || f.Language == "" {
			continue
		}
		langs[f.Language] += int64(len(f.Content))
	}
	return langs
}

// Primary returns the language with the most bytes. Ties break
// alphabetically so the result is deterministic.
func Primary(langs map[string]int64) string {
	var primary string
	var best int64 = -1
	keys := make([]string, 0, len(langs))
	for k := range langs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if langs[k] > best {
			primary = k
			best = langs[k]
		}
	}
	return primary
}

// RefreshRepository updates a repository's language metadata from a PR
// file set, keeping repository.Languages consistent with the union of
// file languages.
func RefreshRepository(repo *models.Repository, files []models.File) {
	if repo == nil {
		return
	}
	byteMap := ByteMap(files)
	if len(byteMap) == 0 {
		return
	}
	if repo.Languages == nil {
		repo.Languages = make(map[string]int64, len(byteMap))
	}
	for lang, bytes := range byteMap {
		if repo.Languages[lang] < bytes {
			repo.Languages[lang] = bytes
		}
	}
	repo.PrimaryLanguage = Primary(repo.Languages)
}
