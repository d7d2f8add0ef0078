package content

import (
	"path"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PathPrefix is prepended to root-relative paths to form canonical paths.
const PathPrefix = "content/"

var supportedExtensions = map[string]bool{
	".md":   true,
	".html": true,
	".htm":  true,
	".svg":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

var imageExtensions = map[string]bool{
	".svg":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

var (
	titleTagPattern   = regexp.MustCompile(`(?is)<title>(.*?)</title>`)
	datePrefixPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_?`)
)

// frontMatter is the leading key:value block recognized in markdown files.
type frontMatter struct {
	Title   string `yaml:"title"`
	Topic   string `yaml:"topic"`
	Pillar  string `yaml:"pillar"`
	Date    string `yaml:"date"`
	Founder string `yaml:"founder"`
}

// Classify maps a root-relative file path and its raw bytes to a typed
// record. It returns nil for unsupported extensions and for paths outside
// the watched stage directories. Classification never fails on malformed
// content; structured fields fall back to path and filename derived values.
func Classify(relPath string, data []byte, now time.Time) *File {
	relPath = strings.ReplaceAll(relPath, "\\", "/")
	ext := strings.ToLower(path.Ext(relPath))
	if !supportedExtensions[ext] {
		return nil
	}

	parts := strings.Split(relPath, "/")
	if len(parts) < 2 {
		return nil
	}
	if !ValidStage(parts[0]) {
		return nil
	}
	stage := Stage(parts[0])
	filename := parts[len(parts)-1]

	// Path segments after the stage pick the type and author; unmatched
	// segments are ignored.
	contentType := TypeSocialPost
	if len(parts) >= 2 {
		if t, ok := contentTypes[parts[1]]; ok {
			contentType = t
		}
	}
	if imageExtensions[ext] {
		contentType = TypeGraphics
	}

	founder := ""
	if len(parts) >= 3 && KnownAuthor(parts[2]) {
		founder = parts[2]
	}

	var title, pillar, date string
	switch ext {
	case ".md":
		fm := parseFrontMatter(data)
		title = fm.Title
		if title == "" {
			title = fm.Topic
		}
		pillar = fm.Pillar
		date = fm.Date
		if fm.Founder != "" {
			founder = strings.ToLower(fm.Founder)
		}
	case ".html", ".htm":
		if m := titleTagPattern.FindSubmatch(data); m != nil {
			title = strings.TrimSpace(string(m[1]))
		}
	}
	// Image files carry no parseable metadata; the title comes from the
	// filename below.

	if title == "" {
		title = titleFromFilename(filename)
	}

	return &File{
		Path:      PathPrefix + relPath,
		Type:      contentType,
		Founder:   founder,
		Stage:     stage,
		Title:     title,
		Pillar:    pillar,
		Date:      date,
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
}

// parseFrontMatter extracts the leading ----fenced block. Malformed blocks
// yield an empty result, never an error.
func parseFrontMatter(data []byte) frontMatter {
	var fm frontMatter
	text := string(data)
	if !strings.HasPrefix(text, "---") {
		return fm
	}
	rest := text[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return frontMatter{}
	}
	return fm
}

func titleFromFilename(filename string) string {
	title := datePrefixPattern.ReplaceAllString(filename, "")
	title = strings.TrimSuffix(title, path.Ext(title))
	title = strings.ReplaceAll(title, "-", " ")
	title = strings.ReplaceAll(title, "_", " ")
	return title
}
