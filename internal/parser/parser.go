// Package parser extracts lottery intents from raw post text. Users author a
// [lottery]...[/lottery] block of full-width-colon key/value lines; the parser
// turns the recognized lines into a loosely-typed Intent record and ignores
// everything else.
package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// Intent is the raw, unvalidated field set parsed out of a lottery block.
// String fields hold the text exactly as authored (trimmed); numeric coercion
// beyond what the grammar demands is left to the validator.
type Intent struct {
	PrizeName       string
	PrizeDetails    string
	DrawTime        string
	WinnersCount    int
	SpecifiedPosts  string
	MinParticipants int
	BackupStrategy  string // "continue" or "cancel"
	AdditionalNotes string
	PrizeImage      string

	fields int // count of recognized fields
}

var blockRe = regexp.MustCompile(`(?s)\[lottery\](.*?)\[/lottery\]`)

// fullColon is the full-width colon separating keys from values.
const fullColon = "："

var intRe = regexp.MustCompile(`\d+`)

// field binds a recognized key to its coercion into the intent record.
type field struct {
	key string
	set func(*Intent, string)
}

// grammar is the ordered table of recognized keys. Order matters only for
// documentation; lines may appear in any order in the block.
var grammar = []field{
	{"活动名称", func(in *Intent, v string) { in.PrizeName = v }},
	{"奖品说明", func(in *Intent, v string) { in.PrizeDetails = v }},
	{"开奖时间", func(in *Intent, v string) { in.DrawTime = v }},
	{"获奖人数", func(in *Intent, v string) {
		// Tolerate suffixes like "3人": take the first integer run.
		if m := intRe.FindString(v); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				in.WinnersCount = n
			}
		}
	}},
	{"指定楼层", func(in *Intent, v string) { in.SpecifiedPosts = v }},
	{"参与门槛", func(in *Intent, v string) {
		// Tolerate suffixes like "10人": take the first integer run.
		if m := intRe.FindString(v); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				in.MinParticipants = n
			}
		}
	}},
	{"后备策略", func(in *Intent, v string) {
		if strings.Contains(v, "取消") {
			in.BackupStrategy = "cancel"
		} else {
			in.BackupStrategy = "continue"
		}
	}},
	{"补充说明", func(in *Intent, v string) { in.AdditionalNotes = v }},
	{"奖品图片", func(in *Intent, v string) { in.PrizeImage = v }},
}

// ExtractBlock returns the inner text of the first [lottery]...[/lottery]
// block in raw, and whether one was found.
func ExtractBlock(raw string) (string, bool) {
	m := blockRe.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Parse reads a lottery block body line by line and returns the intent. The
// second return value is false when no recognized field was present ("no
// data", nothing to do, not an error). Parse is a pure function of its
// input.
func Parse(block string) (Intent, bool) {
	var in Intent

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, fullColon) {
			continue
		}

		key, value, _ := strings.Cut(line, fullColon)
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		for _, f := range grammar {
			if f.key == key {
				f.set(&in, value)
				in.fields++
				break
			}
		}
	}

	if in.fields == 0 {
		return Intent{}, false
	}
	if in.BackupStrategy == "" {
		in.BackupStrategy = "continue"
	}
	return in, true
}

// ParseRaw extracts the lottery block from a full post body and parses it.
// It returns false when the post has no block or the block has no data.
func ParseRaw(raw string) (Intent, bool) {
	block, ok := ExtractBlock(raw)
	if !ok {
		return Intent{}, false
	}
	return Parse(block)
}
