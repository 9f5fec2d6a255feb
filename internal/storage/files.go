package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/domain"
	"gopkg.in/yaml.v3"
)

// LoadRepertoireFile reads a repertoire from YAML or JSON. The id defaults
// to the file name and lines without an ECO code are classified from their
// main line.
func LoadRepertoireFile(path string) (*domain.Repertoire, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read repertoire %q: %w", path, err)
	}
	rep, err := ParseRepertoire(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse repertoire %q: %w", path, err)
	}
	if strings.TrimSpace(rep.ID) == "" {
		rep.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return rep, nil
}

// ParseRepertoire decodes a repertoire document. ext selects JSON (".json");
// anything else is read as YAML.
func ParseRepertoire(data []byte, ext string) (*domain.Repertoire, error) {
	var rep domain.Repertoire
	if strings.EqualFold(ext, ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rep); err != nil {
			return nil, err
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&rep); err != nil {
			return nil, err
		}
	}
	color, err := domain.ParseColor(string(rep.Color))
	if err != nil {
		return nil, err
	}
	rep.Color = color
	for i := range rep.Openings {
		fillECO(&rep.Openings[i])
	}
	return &rep, nil
}

func fillECO(line *domain.OpeningLine) {
	if line.ECO != "" || strings.TrimSpace(line.StartingFEN) != "" {
		return
	}
	c, err := corechess.Classify(mainLineMoves(line.Moves))
	if err != nil || c.Code == "" {
		return
	}
	line.ECO = c.Code
	if line.Name == "" {
		line.Name = c.Title
	}
}

// mainLineMoves follows main-line children, else the first child.
func mainLineMoves(edges []domain.MoveEdge) []string {
	var out []string
	for len(edges) > 0 {
		next := edges[0]
		for _, e := range edges {
			if e.IsMainLine {
				next = e
				break
			}
		}
		move := next.UCI
		if move == "" {
			move = next.SAN
		}
		out = append(out, move)
		edges = next.Children
	}
	return out
}

// DirRepertoires loads every *.yaml, *.yml and *.json file in a directory.
func DirRepertoires(dir string) ([]*domain.Repertoire, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read repertoire dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]*domain.Repertoire, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		rep, err := LoadRepertoireFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[rep.ID]; dup {
			return nil, fmt.Errorf("repertoire id %q defined in both %s and %s", rep.ID, prev, name)
		}
		seen[rep.ID] = name
		out = append(out, rep)
	}
	return out, nil
}
