// Package content defines the pipeline content model and the pure
// classifier that maps files under the content root to typed records.
package content

// Stage is one of the three pipeline phases a content artifact passes through.
type Stage string

const (
	StageToReview Stage = "to-review"
	StageToPost   Stage = "to-post"
	StagePosted   Stage = "posted"
)

// Stages lists the watched stage directories in pipeline order.
var Stages = []Stage{StageToReview, StageToPost, StagePosted}

// ValidStage reports whether s names a watched stage directory.
func ValidStage(s string) bool {
	switch Stage(s) {
	case StageToReview, StageToPost, StagePosted:
		return true
	}
	return false
}

// Type is the content category of a pipeline artifact.
type Type string

const (
	TypeSocialPost Type = "social-post"
	TypeNewsletter Type = "newsletter"
	TypeCommunity  Type = "community"
	TypeBlog       Type = "blog"
	TypeGraphics   Type = "graphics"
)

// contentTypes is the fixed vocabulary matched against path segments.
var contentTypes = map[string]Type{
	"social-post": TypeSocialPost,
	"newsletter":  TypeNewsletter,
	"community":   TypeCommunity,
	"blog":        TypeBlog,
	"graphics":    TypeGraphics,
}

// authors is the fixed roster matched against path segments and front-matter.
var authors = map[string]bool{
	"author-a": true,
	"author-b": true,
	"author-c": true,
	"company":  true,
}

// KnownAuthor reports whether name is part of the author roster.
func KnownAuthor(name string) bool {
	return authors[name]
}

// File is one pipeline artifact. Path is the canonical identity key used by
// the pipeline index and session membership.
type File struct {
	Path      string `json:"path"`
	Type      Type   `json:"type"`
	Founder   string `json:"founder,omitempty"`
	Stage     Stage  `json:"stage"`
	Title     string `json:"title,omitempty"`
	Pillar    string `json:"pillar,omitempty"`
	Date      string `json:"date,omitempty"`
	CreatedAt string `json:"createdAt"`
}
