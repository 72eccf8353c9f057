package launcher

import (
	"fmt"

	"launchq/internal/models"
)

// contentKey identifies a file's content item on a profile. Files without a
// catalog project are keyed by filename.
func contentKey(f models.FileDownload) string {
	if f.ContentID != "" {
		return f.ContentID
	}
	return f.Filename
}

// newFiles drops files whose content is already recorded on the profile at
// the same version or hash, and repeats within the batch.
func newFiles(existing []models.ProfileContent, files []models.FileDownload) []models.FileDownload {
	recorded := make(map[string]models.ProfileContent, len(existing))
	for _, c := range existing {
		recorded[c.ProjectID] = c
	}

	seen := make(map[string]bool, len(files))
	out := make([]models.FileDownload, 0, len(files))
	for _, f := range files {
		key := contentKey(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		if c, ok := recorded[key]; ok && (c.VersionID == f.Version || (f.Hash != "" && c.Hash == f.Hash)) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// replacedContent returns the recorded rows that installing files would
// overwrite. Rows already matching a file are not replacements.
func replacedContent(existing []models.ProfileContent, files []models.FileDownload) []models.ProfileContent {
	recorded := make(map[string]models.ProfileContent, len(existing))
	for _, c := range existing {
		recorded[c.ProjectID] = c
	}
	var out []models.ProfileContent
	for _, f := range files {
		c, ok := recorded[contentKey(f)]
		if !ok || (c.VersionID == f.Version && c.Filename == f.Filename) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func profileContent(profileID string, t models.ContentType, files []models.FileDownload) []models.ProfileContent {
	out := make([]models.ProfileContent, 0, len(files))
	for _, f := range files {
		out = append(out, models.ProfileContent{
			ProfileID: profileID,
			ProjectID: contentKey(f),
			VersionID: f.Version,
			Hash:      f.Hash,
			Filename:  f.Filename,
			Type:      t,
			Size:      f.Size,
		})
	}
	return out
}

func batchTitle(title string, files []models.FileDownload) string {
	if title != "" {
		return title
	}
	if len(files) == 0 {
		return "content"
	}
	first := files[0].Title
	if first == "" {
		first = files[0].Filename
	}
	if len(files) == 1 {
		return first
	}
	return fmt.Sprintf("%s and %d more", first, len(files)-1)
}

func clientTitle(meta models.ClientMetadata) string {
	if meta.Loader == "" || meta.Loader == "vanilla" {
		return "Minecraft " + meta.Version
	}
	return fmt.Sprintf("Minecraft %s (%s)", meta.Version, meta.Loader)
}

// loadersFor returns the catalog loader filter for content of type t on a
// profile running loader.
func loadersFor(t models.ContentType, loader string) []string {
	switch t {
	case models.TypeResourcepack:
		return []string{"minecraft"}
	case models.TypeShader:
		return []string{"iris", "optifine", "canvas", "vanilla"}
	case models.TypeDatapack:
		return []string{"datapack"}
	}
	if loader == "" || loader == "vanilla" {
		return nil
	}
	return []string{loader}
}
