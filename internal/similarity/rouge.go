package similarity

import "fmt"

type Variant string

const (
	Rouge1 Variant = "rouge-1"
	Rouge2 Variant = "rouge-2"
	RougeL Variant = "rouge-l"
)

type Metric string

const (
	Precision Metric = "p"
	Recall    Metric = "r"
	F1        Metric = "f"
)

func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case Rouge1, Rouge2, RougeL:
		return v, nil
	}
	return "", fmt.Errorf("unknown rouge variant %q", s)
}

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case Precision, Recall, F1:
		return m, nil
	}
	return "", fmt.Errorf("unknown rouge metric %q", s)
}

// Scores holds precision, recall and F1 of a candidate against a reference.
type Scores struct {
	P, R, F float64
}

func (s Scores) Get(m Metric) float64 {
	switch m {
	case Precision:
		return s.P
	case Recall:
		return s.R
	default:
		return s.F
	}
}

// Rouge compares candidate tokens against reference tokens.
func Rouge(v Variant, candidate, reference []string) Scores {
	switch v {
	case Rouge1:
		return ngramScores(candidate, reference, 1)
	case Rouge2:
		return ngramScores(candidate, reference, 2)
	default:
		return lcsScores(candidate, reference)
	}
}

// ngramScores counts distinct n-grams: a repeated n-gram contributes once
// to the overlap and once to each side's total.
func ngramScores(candidate, reference []string, n int) Scores {
	cand := ngrams(candidate, n)
	ref := ngrams(reference, n)
	if len(cand) == 0 || len(ref) == 0 {
		return Scores{}
	}

	overlap := 0
	for g := range cand {
		if _, ok := ref[g]; ok {
			overlap++
		}
	}
	if overlap == 0 {
		return Scores{}
	}
	p := float64(overlap) / float64(len(cand))
	r := float64(overlap) / float64(len(ref))
	return Scores{P: p, R: r, F: 2 * p * r / (p + r)}
}

func ngrams(tokens []string, n int) map[string]struct{} {
	if len(tokens) < n {
		return nil
	}
	out := make(map[string]struct{}, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		g := tokens[i]
		for j := 1; j < n; j++ {
			g += "\x00" + tokens[i+j]
		}
		out[g] = struct{}{}
	}
	return out
}

// lcsScores is summary-level ROUGE-L with one reference sentence: the
// distinct tokens of one longest common subsequence over the distinct
// tokens of each side, and an F weighted by beta = P/R.
func lcsScores(candidate, reference []string) Scores {
	if len(candidate) == 0 || len(reference) == 0 {
		return Scores{}
	}
	llcs := len(distinct(lcsTokens(reference, candidate)))
	if llcs == 0 {
		return Scores{}
	}
	p := float64(llcs) / float64(len(distinct(candidate)))
	r := float64(llcs) / float64(len(distinct(reference)))
	beta2 := (p / r) * (p / r)
	return Scores{P: p, R: r, F: (1 + beta2) * r * p / (r + beta2*p)}
}

// lcsTokens reconstructs one longest common subsequence of x and y.
func lcsTokens(x, y []string) []string {
	table := make([][]int, len(x)+1)
	for i := range table {
		table[i] = make([]int, len(y)+1)
	}
	for i := 1; i <= len(x); i++ {
		for j := 1; j <= len(y); j++ {
			if x[i-1] == y[j-1] {
				table[i][j] = table[i-1][j-1] + 1
			} else {
				table[i][j] = max(table[i-1][j], table[i][j-1])
			}
		}
	}

	out := make([]string, 0, table[len(x)][len(y)])
	for i, j := len(x), len(y); i > 0 && j > 0; {
		switch {
		case x[i-1] == y[j-1]:
			out = append(out, x[i-1])
			i--
			j--
		case table[i-1][j] > table[i][j-1]:
			i--
		default:
			j--
		}
	}
	return out
}

func distinct(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		out[t] = struct{}{}
	}
	return out
}
