// Package importer parses markdown highlight files and reconciles them with
// the database.
//
// The file format is one book heading followed by its highlights:
//
//	# Atomic Habits by James Clear
//
//	> You do not rise to the level of your goals.
//	> You fall to the level of your systems.
//	@habits, systems
//	-- The core thesis of the whole book.
//
// A `>` block starts a highlight, `@` attaches comma-separated tags, and
// `--` lines hold a personal note. A blank line or the next `>` block ends
// the highlight.
package importer

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// ParsedHighlight is one highlight as read from a markdown file, before it is
// assigned an identity hash or owner.
type ParsedHighlight struct {
	BookTitle string
	Author    string
	Content   string
	Note      string
	Tags      []string
}

type parseState int

const (
	seeking parseState = iota
	readingHighlight
	readingNote
)

// ParseFile reads a markdown file and extracts all highlights.
func ParseFile(path string) ([]ParsedHighlight, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads from an io.Reader and extracts all highlights.
func Parse(r io.Reader) ([]ParsedHighlight, error) {
	scanner := bufio.NewScanner(r)

	var (
		highlights   []ParsedHighlight
		current      ParsedHighlight
		contentLines []string
		noteLines    []string
		book, author string
	)
	state := seeking

	finishHighlight := func() {
		current.Content = strings.TrimSpace(strings.Join(contentLines, "\n"))
		current.Note = strings.TrimSpace(strings.Join(noteLines, "\n"))
		current.BookTitle = book
		current.Author = author
		if current.Content != "" {
			highlights = append(highlights, current)
		}
		current = ParsedHighlight{}
		contentLines = nil
		noteLines = nil
		state = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "# "):
			finishHighlight()
			book, author = splitBookHeading(strings.TrimSpace(trimmed[2:]))

		case strings.HasPrefix(trimmed, ">"):
			if state == readingNote || (state == readingHighlight && len(noteLines) > 0) {
				finishHighlight()
			}
			state = readingHighlight
			contentLines = append(contentLines, strings.TrimSpace(strings.TrimPrefix(trimmed, ">")))

		case strings.HasPrefix(trimmed, "@") && state != seeking:
			current.Tags = append(current.Tags, splitTagList(trimmed[1:])...)

		case strings.HasPrefix(trimmed, "--") && state != seeking:
			state = readingNote
			noteLines = append(noteLines, strings.TrimSpace(trimmed[2:]))

		case trimmed == "":
			if state != seeking {
				finishHighlight()
			}

		default:
			// Continuation lines extend whichever block is open.
			switch state {
			case readingHighlight:
				contentLines = append(contentLines, trimmed)
			case readingNote:
				noteLines = append(noteLines, trimmed)
			}
		}
	}

	finishHighlight()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return highlights, nil
}

// splitBookHeading separates "Title by Author" on the last " by ". A heading
// without one is all title.
func splitBookHeading(heading string) (title, author string) {
	idx := strings.LastIndex(heading, " by ")
	if idx < 0 {
		return heading, ""
	}
	return strings.TrimSpace(heading[:idx]), strings.TrimSpace(heading[idx+len(" by "):])
}

func splitTagList(s string) []string {
	var tags []string
	for _, part := range strings.Split(s, ",") {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
