package llmcorrect

import "strings"

// anchor pairs a token index in the original transcript with its match in
// the corrected one.
type anchor struct {
	orig, corr int
}

// diffSpan is a contiguous token region that differs between the original
// and corrected transcripts.
type diffSpan struct {
	orig []string
	corr []string
}

// tokenLCS computes the longest common subsequence of two token slices and
// returns the matched index pairs in order. Standard O(m×n) DP — transcript
// segments are short.
func tokenLCS(a, b []string) []anchor {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	lcsLen := dp[m][n]
	if lcsLen == 0 {
		return nil
	}

	anchors := make([]anchor, lcsLen)
	i, j, k := m, n, lcsLen-1
	for i > 0 && j > 0 {
		if a[i-1] == b[j-1] {
			anchors[k] = anchor{orig: i - 1, corr: j - 1}
			i--
			j--
			k--
		} else if dp[i-1][j] >= dp[i][j-1] {
			i--
		} else {
			j--
		}
	}
	return anchors
}

// walkAnchors visits the two token sequences in order: gap is called for
// every differing region between anchored tokens (including the tail), keep
// for every anchored (unchanged) token.
func walkAnchors(orig, corr []string, anchors []anchor, gap func(diffSpan), keep func(string)) {
	oi, ci := 0, 0
	for _, a := range anchors {
		if oi < a.orig || ci < a.corr {
			gap(diffSpan{orig: orig[oi:a.orig], corr: corr[ci:a.corr]})
		}
		keep(orig[a.orig])
		oi, ci = a.orig+1, a.corr+1
	}
	if oi < len(orig) || ci < len(corr) {
		gap(diffSpan{orig: orig[oi:], corr: corr[ci:]})
	}
}

// diffSpans collects every differing region between the two sequences.
func diffSpans(orig, corr []string, anchors []anchor) []diffSpan {
	var spans []diffSpan
	walkAnchors(orig, corr, anchors,
		func(s diffSpan) { spans = append(spans, s) },
		func(string) {},
	)
	return spans
}

// canonical lowercases s and strips common trailing punctuation so that
// token spans like "Grafana." match corrections declared as "Grafana".
func canonical(s string) string {
	return strings.ToLower(strings.TrimRight(s, ".,;:!?\"')"))
}

// verifyCorrectedText cross-references the actual token-level changes
// between original and corrected against the corrections the model claims
// it made. Any change the model did not declare is reverted to the original
// tokens. Returns the verified text and only the confirmed corrections.
func verifyCorrectedText(original, corrected string, corrections []Correction) (string, []Correction) {
	if original == corrected {
		return original, corrections
	}

	origTokens := strings.Fields(original)
	corrTokens := strings.Fields(corrected)
	anchors := tokenLCS(origTokens, corrTokens)

	type key struct{ orig, corr string }
	declared := make(map[key]Correction, len(corrections))
	for _, c := range corrections {
		declared[key{canonical(c.Original), canonical(c.Corrected)}] = c
	}

	var (
		result   []string
		verified []Correction
	)
	walkAnchors(origTokens, corrTokens, anchors,
		func(s diffSpan) {
			k := key{
				canonical(strings.Join(s.orig, " ")),
				canonical(strings.Join(s.corr, " ")),
			}
			if c, ok := declared[k]; ok {
				result = append(result, s.corr...)
				verified = append(verified, c)
				return
			}
			result = append(result, s.orig...)
		},
		func(tok string) { result = append(result, tok) },
	)

	return strings.Join(result, " "), verified
}
