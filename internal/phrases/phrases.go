// Package phrases holds the curated phrase patterns the termination
// detector uses to classify a no-tool-call round as still working or
// wrapping up. The lists are versioned data, not control flow: tune them
// here and in the fixtures without touching loop logic. English and Chinese
// phrasings are both covered.
package phrases

import "regexp"

// Version identifies the phrase data revision for debugging regressions.
const Version = "2026-08"

// incompletePatterns match text that implies the model intends to keep
// working: announced next actions, progress markers, waiting states.
var incompletePatterns = compile([]string{
	`(?i)\b(i underst(?:and|ood)|got it|sure)\b.{0,40}\b(let me|i(?:'| wi)ll|i am going to)\b`,
	`(?i)\b(let me|i(?:'| wi)ll|i'm going to|i am going to|going to|about to)\b.{0,60}\b(check|run|execute|look|read|inspect|verify|try|fix|install|search|open|list|test|start)\b`,
	`(?i)\b(next|first|then|now)[, ]+(i(?:'| wi)ll|let(?:'s| us)|we(?:'| wi)ll)\b`,
	`(?i)\b(checking|running|executing|inspecting|verifying|looking into|working on|investigating|installing)\b`,
	`(?i)\b(one (?:moment|second)|hold on|please wait|waiting for)\b`,
	`(?i)\bnot (?:yet )?(?:done|finished|complete)\b`,
	`(?i)\bstill (?:need|have|working|running|checking)\b`,
	`让我|我来|我将|我会|接下来|然后我|现在我|正在(?:检查|运行|执行|查看|安装|验证)`,
	`稍等|请稍候|还没有?完成|仍(?:然|在)|尚未完成`,
})

// summaryPatterns match closing language: work summarized, results stated,
// nothing further promised.
var summaryPatterns = compile([]string{
	`(?i)\b(in summary|to summarize|to recap|in conclusion|overall)\b`,
	`(?i)\b(task|work|everything|all steps?|the job) (?:is|are|has been|have been) (?:now )?(?:complete|completed|done|finished)\b`,
	`(?i)\b(i(?:'ve| have) (?:now )?(?:completed|finished|done))\b`,
	`(?i)\b(successfully (?:completed|finished|installed|fixed|configured))\b`,
	`(?i)\b(no further (?:action|steps?|changes?) (?:is|are)? ?(?:needed|required))\b`,
	`(?i)\b(let me know if|feel free to|if you (?:need|have|want))\b`,
	`(?i)\b(here(?:'s| is) (?:a |the )?summary)\b`,
	`总结|综上|已(?:经)?完成|全部完成|任务完成|如(?:果你)?(?:有|需要)(?:其他|别的|任何)`,
	`没有(?:其他|进一步)(?:的)?(?:操作|步骤)|至此`,
})

func compile(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		out[i] = regexp.MustCompile(expr)
	}
	return out
}

// MatchesIncomplete reports whether text implies another round of work.
func MatchesIncomplete(text string) bool {
	return matchAny(incompletePatterns, text)
}

// MatchesSummary reports whether text reads as a closing summary.
func MatchesSummary(text string) bool {
	return matchAny(summaryPatterns, text)
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
