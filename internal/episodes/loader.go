// Package episodes loads raw episode transcripts and keeps them in SQLite.
package episodes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
)

// LoadPath reads episodes from a JSON file holding an array of episodes, or from every
// *.json file of a directory (each an array or a single episode). Episodes later in
// the listing replace earlier ones with the same id.
func LoadPath(path string) ([]domain.Episode, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rerrors.NewNotFound("episodes file", path)
		}
		return nil, err
	}
	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.json"))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)
	}

	byID := map[string]int{}
	var out []domain.Episode
	for _, f := range files {
		eps, err := loadFile(f)
		if err != nil {
			return nil, err
		}
		for _, ep := range eps {
			if i, ok := byID[ep.ID]; ok {
				out[i] = ep
				continue
			}
			byID[ep.ID] = len(out)
			out = append(out, ep)
		}
	}
	if len(out) == 0 {
		return nil, rerrors.NewInvalidRequest(fmt.Sprintf("no episodes found in %s", path))
	}
	return out, nil
}

func loadFile(path string) ([]domain.Episode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	var eps []domain.Episode
	switch {
	case trimmed == "":
		return nil, nil
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(data, &eps); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		var ep domain.Episode
		if err := json.Unmarshal(data, &ep); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		eps = []domain.Episode{ep}
	}
	for i := range eps {
		if err := normalize(&eps[i]); err != nil {
			return nil, fmt.Errorf("%s: episode %d: %w", path, i, err)
		}
	}
	return eps, nil
}

func normalize(ep *domain.Episode) error {
	ep.ID = strings.TrimSpace(ep.ID)
	ep.Guest = strings.TrimSpace(ep.Guest)
	ep.GuestExpertise = strings.TrimSpace(ep.GuestExpertise)
	ep.IndustryTags = domain.UniqueStrings(ep.IndustryTags)
	ep.EpisodeThemes = domain.UniqueStrings(ep.EpisodeThemes)
	if ep.ID == "" {
		return rerrors.NewInvalidRequest("missing id")
	}
	if ep.Guest == "" {
		return rerrors.NewInvalidRequest("missing guest")
	}
	return nil
}
