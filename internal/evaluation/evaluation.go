// Package evaluation scores recognizer and translator output against
// line-aligned references.
package evaluation

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"
)

// MaxOrder is the largest n-gram order counted by CorpusBLEU.
const MaxOrder = 4

var ErrLengthMismatch = errors.New("reference and hypothesis line counts differ")

// ReadLines returns the whitespace-trimmed lines of path.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

// WER is the corpus word error rate: total substitutions, deletions and
// insertions over the total number of reference words.
func WER(references, hypotheses []string) (float64, error) {
	if len(references) != len(hypotheses) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(references), len(hypotheses))
	}
	var edits, words int
	for i := range references {
		ref := strings.Fields(references[i])
		hyp := strings.Fields(hypotheses[i])
		edits += editDistance(ref, hyp)
		words += len(ref)
	}
	if words == 0 {
		return 0, errors.New("references contain no words")
	}
	return float64(edits) / float64(words), nil
}

func editDistance(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// BLEU is a corpus BLEU result on the 0-100 scale.
type BLEU struct {
	Score          float64
	Precisions     [MaxOrder]float64
	BrevityPenalty float64
	HypothesisLen  int
	ReferenceLen   int
}

// CorpusBLEU scores hypotheses against a single reference per line. The
// score is zero when any n-gram order has no match.
func CorpusBLEU(hypotheses, references []string) (BLEU, error) {
	if len(references) != len(hypotheses) {
		return BLEU{}, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(references), len(hypotheses))
	}
	var (
		matches [MaxOrder]int
		totals  [MaxOrder]int
		res     BLEU
	)
	for i := range hypotheses {
		hyp := Tokenize(hypotheses[i])
		ref := Tokenize(references[i])
		res.HypothesisLen += len(hyp)
		res.ReferenceLen += len(ref)
		for n := 1; n <= MaxOrder; n++ {
			refCounts := ngrams(ref, n)
			for gram, count := range ngrams(hyp, n) {
				matches[n-1] += min(count, refCounts[gram])
				totals[n-1] += count
			}
		}
	}

	if res.HypothesisLen == 0 {
		return res, nil
	}
	var logSum float64
	for n := 0; n < MaxOrder; n++ {
		if totals[n] == 0 || matches[n] == 0 {
			return res, nil
		}
		p := float64(matches[n]) / float64(totals[n])
		res.Precisions[n] = 100 * p
		logSum += math.Log(p)
	}
	res.BrevityPenalty = 1
	if res.HypothesisLen < res.ReferenceLen {
		res.BrevityPenalty = math.Exp(1 - float64(res.ReferenceLen)/float64(res.HypothesisLen))
	}
	res.Score = 100 * res.BrevityPenalty * math.Exp(logSum/MaxOrder)
	return res, nil
}

func ngrams(tokens []string, n int) map[string]int {
	out := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		out[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return out
}

// Tokenize splits on whitespace and separates punctuation into its own
// tokens. Periods and commas between digits stay attached.
func Tokenize(s string) []string {
	var tokens []string
	for _, field := range strings.Fields(s) {
		runes := []rune(field)
		start := 0
		for i, r := range runes {
			if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
				continue
			}
			if (r == '.' || r == ',') && i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
				continue
			}
			if start < i {
				tokens = append(tokens, string(runes[start:i]))
			}
			tokens = append(tokens, string(r))
			start = i + 1
		}
		if start < len(runes) {
			tokens = append(tokens, string(runes[start:]))
		}
	}
	return tokens
}
