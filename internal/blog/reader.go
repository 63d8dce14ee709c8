// Package blog reads markdown posts with optional YAML front matter.
package blog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Ext is the extension of post files.
const Ext = ".md"

// Post is a parsed blog post.
type Post struct {
	Path     string
	Title    string
	Body     string
	Metadata map[string]any
	// Hash is the sha256 of the raw file contents.
	Hash string
}

// Name returns the file name of the post.
func (p Post) Name() string {
	return filepath.Base(p.Path)
}

// IsPost reports whether path looks like a post file.
func IsPost(path string) bool {
	return strings.EqualFold(filepath.Ext(path), Ext) && !strings.HasPrefix(filepath.Base(path), ".")
}

// List returns the post files in dir, sorted by name.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read posts dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsPost(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Reader loads posts from disk.
type Reader struct {
	log *zap.Logger
}

// NewReader creates a Reader. log may be nil.
func NewReader(log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{log: log}
}

// Read loads the post at path. An unreadable file is returned as an empty
// post with the error logged; the generator falls back to a generic tweet.
func (r *Reader) Read(path string) Post {
	raw, err := os.ReadFile(path)
	if err != nil {
		r.log.Error("error reading post", zap.String("path", path), zap.Error(err))
		return Post{Path: path, Metadata: map[string]any{}}
	}
	p := Parse(string(raw))
	p.Path = path
	sum := sha256.Sum256(raw)
	p.Hash = hex.EncodeToString(sum[:])
	return p
}

// Parse splits front matter from content. Front matter is the text between
// the first two "---" markers; invalid YAML or a non-mapping document yields
// empty metadata.
func Parse(content string) Post {
	p := Post{Metadata: map[string]any{}}

	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		p.Body = cleanBody(content)
		return p
	}

	var meta map[string]any
	if err := yaml.Unmarshal([]byte(parts[1]), &meta); err == nil && meta != nil {
		p.Metadata = meta
	}
	if title, ok := p.Metadata["title"].(string); ok {
		p.Title = strings.TrimSpace(title)
	}
	p.Body = cleanBody(parts[2])
	return p
}

const (
	blockTags  = `address|article|aside|audio|blockquote|center|details|div|dl|embed|figcaption|figure|footer|form|h[1-6]|header|hr|iframe|li|nav|object|ol|p|picture|pre|section|summary|table|tbody|td|tfoot|th|thead|tr|ul|video`
	inlineTags = blockTags + `|a|abbr|b|br|cite|code|del|em|font|i|img|ins|kbd|mark|q|s|small|source|span|strong|sub|sup|u`
)

var (
	htmlComment = regexp.MustCompile(`(?s)<!--.*?-->`)
	scriptElem  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleElem   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	htmlTag     = regexp.MustCompile(`(?i)</?(?:` + inlineTags + `)(?:\s[^<>]*)?/?>`)
	htmlBlock   = regexp.MustCompile(`(?i)^ {0,3}</?(?:` + blockTags + `)(?:[\s/>]|$)`)
)

// cleanBody strips the HTML that markdown posts often carry (embeds,
// figures, comments, scripts) and keeps everything else byte for byte.
// Fenced code and inline code spans are left alone.
func cleanBody(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "<") {
		return s
	}

	var (
		out   []string
		prose []string
		fence string
	)
	flush := func() {
		if len(prose) > 0 {
			out = append(out, cleanProse(strings.Join(prose, "\n"))...)
			prose = nil
		}
	}
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		if fence != "" {
			out = append(out, line)
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			flush()
			fence = trimmed[:3]
			out = append(out, line)
			continue
		}
		prose = append(prose, line)
	}
	flush()
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// cleanProse handles text outside code fences. A run of lines opened by a
// block-level tag is an HTML block and is reduced to its text with goquery;
// elsewhere comments, scripts and styles are removed and only recognised
// tags are dropped.
func cleanProse(text string) []string {
	lines := strings.Split(text, "\n")
	var out, run []string
	flush := func() {
		if len(run) == 0 {
			return
		}
		t := strings.Join(run, "\n")
		t = htmlComment.ReplaceAllString(t, "")
		t = scriptElem.ReplaceAllString(t, "")
		t = styleElem.ReplaceAllString(t, "")
		for _, l := range strings.Split(t, "\n") {
			out = append(out, stripTags(l))
		}
		run = nil
	}
	for i := 0; i < len(lines); i++ {
		if !htmlBlock.MatchString(lines[i]) {
			run = append(run, lines[i])
			continue
		}
		flush()
		j := i
		for j < len(lines) && strings.TrimSpace(lines[j]) != "" {
			j++
		}
		out = append(out, blockText(strings.Join(lines[i:j], "\n")))
		i = j - 1
	}
	flush()
	return out
}

func blockText(block string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(block))
	if err != nil {
		return stripTags(block)
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(doc.Text())
}

// stripTags removes recognised tags outside `code spans`.
func stripTags(line string) string {
	if !strings.Contains(line, "<") {
		return line
	}
	parts := strings.Split(line, "`")
	for i := 0; i < len(parts); i += 2 {
		parts[i] = htmlTag.ReplaceAllString(parts[i], "")
	}
	return strings.Join(parts, "`")
}
