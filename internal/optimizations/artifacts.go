package optimizations

import (
	"context"
	"fmt"
	"path"
	"strings"

	"optimizer-backend/internal/shared/storage/object"
	"optimizer-backend/internal/shared/util"
)

// persistArtifacts writes the rendered formats to the object store and
// returns their storage keys. Stores that support keyed writes get
// deterministic per-session keys, so re-rendering a session overwrites its
// artifacts in place; other stores fall back to Save and its random
// prefixes. A nil store skips persistence; the result still carries the full
// content inline.
func persistArtifacts(ctx context.Context, store object.ObjectStore, userID, sessionID string, rendered Rendered) (ArtifactKeys, error) {
	if store == nil {
		return ArtifactKeys{}, nil
	}
	var keys ArtifactKeys
	files := []struct {
		name        string
		contentType string
		content     string
		dst         *string
	}{
		{"ats.txt", "text/plain; charset=utf-8", rendered.ATSText, &keys.ATSText},
		{"resume.html", "text/html; charset=utf-8", rendered.StyledHTML, &keys.StyledHTML},
		{"resume.md", "text/markdown; charset=utf-8", rendered.Markdown, &keys.Markdown},
	}

	if keyed, ok := store.(object.KeyedSaver); ok {
		base := path.Join(util.HashUserKey(userID), "optimizations", sessionID)
		for _, f := range files {
			key := path.Join(base, f.name)
			if _, err := keyed.SaveWithKey(ctx, key, f.contentType, strings.NewReader(f.content)); err != nil {
				return ArtifactKeys{}, fmt.Errorf("store artifact %s: %w", f.name, err)
			}
			*f.dst = key
		}
		return keys, nil
	}

	for _, f := range files {
		key, _, _, err := store.Save(ctx, userID, sessionID+"_"+f.name, strings.NewReader(f.content))
		if err != nil {
			return ArtifactKeys{}, fmt.Errorf("store artifact %s: %w", f.name, err)
		}
		*f.dst = key
	}
	return keys, nil
}

// artifactKeyFor maps a format name from the download route to the stored
// key for that artifact. Unknown formats return empty.
func artifactKeyFor(keys ArtifactKeys, format string) string {
	switch format {
	case "ats", "ats.txt", "txt":
		return keys.ATSText
	case "html", "styled", "resume.html":
		return keys.StyledHTML
	case "md", "markdown", "resume.md":
		return keys.Markdown
	default:
		return ""
	}
}
