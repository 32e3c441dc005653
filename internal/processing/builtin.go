package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// Built-in processor names.
const (
	ChecksumName    = "checksum"
	ValidateName    = "validate"
	TextSummaryName = "text-summary"
)

// --- checksum ---

// Checksum records the sha256 and size of the file.
type Checksum struct{}

func NewChecksum() *Checksum { return &Checksum{} }

func (c *Checksum) Name() string { return ChecksumName }

func (c *Checksum) Process(ctx context.Context, in Input) (Result, error) {
	sum := SHA256Hex(in.Data)
	return Result{
		Checksum: sum,
		Metadata: map[string]any{
			"sha256":     sum,
			"size_bytes": len(in.Data),
		},
	}, nil
}

// --- validate ---

// Validate checks the content of a file against the magic numbers of the
// type its name claims. Files of unregistered types pass with file_type
// "unknown" unless their magic number identifies them.
type Validate struct {
	validator *Validator
}

func NewValidate(v *Validator) *Validate {
	if v == nil {
		v = NewValidator()
	}
	return &Validate{validator: v}
}

func (p *Validate) Name() string { return ValidateName }

func (p *Validate) Process(ctx context.Context, in Input) (Result, error) {
	name := ""
	if in.Record != nil {
		name = in.Record.OriginalName
	}

	ft, ok := p.validator.ByExtension(name)
	if !ok {
		detected := "unknown"
		if d, found := p.validator.Detect(in.Data); found {
			detected = d.Name
		}
		return Result{Metadata: map[string]any{"file_type": detected}}, nil
	}

	if !ft.MatchesMagic(in.Data) {
		return Result{}, Terminal(fmt.Errorf("content of %q is not a valid %s file", name, ft.Name))
	}
	if ft.MaxSize > 0 && int64(len(in.Data)) > ft.MaxSize {
		return Result{}, Terminal(fmt.Errorf("%s file exceeds %d bytes", ft.Name, ft.MaxSize))
	}
	return Result{Metadata: map[string]any{"file_type": ft.Name}}, nil
}

// --- text-summary ---

const maxBinaryCheckBytes = 512

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var charReplacer = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'", "\u201C", "\"", "\u201D", "\"",
	"\u2013", "-", "\u2014", "--", "\u2026", "...", "\u00a0", " ",
	"\u0096", "-", "\u0097", "--", "\u0091", "'", "\u0092", "'",
	"\u0093", "\"", "\u0094", "\"",
)

// IsLikelyBinary reports whether the leading bytes contain a NUL.
func IsLikelyBinary(data []byte) bool {
	head := data
	if len(head) > maxBinaryCheckBytes {
		head = head[:maxBinaryCheckBytes]
	}
	return bytes.IndexByte(head, 0) >= 0
}

// CleanText strips a UTF-8 BOM, repairs invalid UTF-8 and normalises
// typographic punctuation.
func CleanText(data []byte, src string) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	if !utf8.Valid(data) {
		log.WithField("source", src).Warn("Invalid UTF-8, replacing invalid characters")
		data = bytes.ToValidUTF8(data, []byte(string(utf8.RuneError)))
	}

	str := charReplacer.Replace(string(data))
	if !utf8.ValidString(str) {
		return "", fmt.Errorf("invalid UTF-8 after replacements: %s", src)
	}
	return str, nil
}

// Summarize returns the first two sentences of text, truncated on a word
// boundary with "..." when longer than maxLength runes. maxLength <= 0
// disables truncation.
func Summarize(text string, maxLength int) string {
	sentences := splitSentences(text)
	if len(sentences) > 2 {
		sentences = sentences[:2]
	}
	summary := strings.Join(sentences, " ")

	if maxLength <= 0 || utf8.RuneCountInString(summary) <= maxLength {
		return summary
	}
	if maxLength <= 3 {
		return "..."
	}
	runes := []rune(summary)[:maxLength-3]
	cut := string(runes)
	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(cut, unicode.IsSpace) + "..."
}

// splitSentences breaks text after '.', '!' or '?' followed by whitespace.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(strings.Join(strings.Fields(text), " "))
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 == len(runes) || runes[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(string(runes[start:i+1])))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// TextSummary stores a short summary of text files.
type TextSummary struct {
	maxLength int
}

func NewTextSummary(maxLength int) *TextSummary {
	return &TextSummary{maxLength: maxLength}
}

func (p *TextSummary) Name() string { return TextSummaryName }

func (p *TextSummary) Process(ctx context.Context, in Input) (Result, error) {
	src := ""
	if in.Record != nil {
		src = in.Record.ID
	}
	if IsLikelyBinary(in.Data) {
		return Result{}, Terminal(errors.New("content is binary, not text"))
	}
	text, err := CleanText(in.Data, src)
	if err != nil {
		return Result{}, Terminal(err)
	}
	return Result{Metadata: map[string]any{
		"summary":    Summarize(text, p.maxLength),
		"characters": utf8.RuneCountInString(text),
	}}, nil
}
