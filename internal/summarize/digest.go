package summarize

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ironsheep/moodle-forum-mcp/internal/moodle"
)

// Default digest budgets per unit.
const (
	DefaultCharBudget  = 120000
	DefaultTokenBudget = 24000
)

// Counter measures text against the digest budget.
type Counter interface {
	Count(s string) int
}

// CharCounter counts runes.
type CharCounter struct{}

// Count returns the number of runes in s.
func (CharCounter) Count(s string) int {
	return utf8.RuneCountInString(s)
}

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.Mutex
)

// TokenCounter counts model tokens using the tiktoken encoding for a model.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the encoding for model, falling back to cl100k_base
// for models tiktoken does not know.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return &TokenCounter{enc: enc}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %w", err)
		}
	}

	encodingCache[model] = enc
	return &TokenCounter{enc: enc}, nil
}

// Count returns the number of tokens in s.
func (c *TokenCounter) Count(s string) int {
	return len(c.enc.Encode(s, nil, nil))
}

// Digest is the bounded text handed to the completion capability.
type Digest struct {
	Text            string
	IncludedPostIDs []int64
	Omitted         int
	Size            int
}

// BuildDigest assembles posts into a digest no larger than budget as
// measured by counter. The oldest root post is always included, cut down
// if it alone exceeds the budget. The rest follow in chronological order
// until the next one would not fit; everything after that is omitted.
func BuildDigest(posts []moodle.Post, budget int, counter Counter) Digest {
	if counter == nil {
		counter = CharCounter{}
	}
	if len(posts) == 0 {
		return Digest{}
	}

	rootIdx := 0
	for i, p := range posts {
		if p.IsRoot() {
			rootIdx = i
			break
		}
	}

	var (
		b        strings.Builder
		included []int64
		used     int
	)

	rootLine := fitLine(posts[rootIdx], budget, counter)
	b.WriteString(rootLine)
	used = counter.Count(rootLine)
	included = append(included, posts[rootIdx].ID)

	omitted := 0
	for i, p := range posts {
		if i == rootIdx {
			continue
		}
		if omitted > 0 {
			omitted++
			continue
		}
		line := "\n" + digestLine(p)
		n := counter.Count(line)
		if used+n > budget {
			omitted++
			continue
		}
		b.WriteString(line)
		used += n
		included = append(included, p.ID)
	}

	if omitted > 0 {
		b.WriteString(fmt.Sprintf("\n[%d posts omitted]", omitted))
	}

	text := b.String()
	return Digest{
		Text:            text,
		IncludedPostIDs: included,
		Omitted:         omitted,
		Size:            counter.Count(text),
	}
}

func digestLine(p moodle.Post) string {
	ref := fmt.Sprintf("post %d", p.ID)
	if p.ParentID != nil {
		ref += fmt.Sprintf(", reply to %d", *p.ParentID)
	}
	return fmt.Sprintf("- [%s] %s @ %s: %s", ref, p.Author, p.Created.UTC().Format(time.RFC3339), p.Message)
}

// fitLine renders p and, if needed, shortens its message so the line fits
// within budget.
func fitLine(p moodle.Post, budget int, counter Counter) string {
	line := digestLine(p)
	if budget <= 0 || counter.Count(line) <= budget {
		return line
	}

	msg := []rune(p.Message)
	lo, hi := 0, len(msg)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		p.Message = string(msg[:mid]) + "…"
		if counter.Count(digestLine(p)) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	p.Message = string(msg[:lo]) + "…"
	return digestLine(p)
}
