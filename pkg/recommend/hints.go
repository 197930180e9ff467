package recommend

import "strings"

// hintRule maps tactic keywords to a suggested execution profile
type hintRule struct {
	keywords []string
	hint     ExecutionHint
}

var hintRules = []hintRule{
	{
		keywords: []string{"classif", "categoriz", "rotul", "tag", "triag"},
		hint:     ExecutionHint{Model: "fast", TaskType: "classification", TokenCost: "low"},
	},
	{
		keywords: []string{"analis", "analy", "audit", "review", "diagnos", "avali"},
		hint:     ExecutionHint{Model: "balanced", TaskType: "analysis", TokenCost: "medium"},
	},
	{
		keywords: []string{"gerar", "generat", "criar", "create", "escrever", "write", "redig", "draft"},
		hint:     ExecutionHint{Model: "advanced", TaskType: "generation", TokenCost: "high"},
	},
	{
		keywords: []string{"resum", "summar", "sintetiz", "extract", "extrair"},
		hint:     ExecutionHint{Model: "fast", TaskType: "summarization", TokenCost: "low"},
	},
}

// inferExecutionHint classifies a tactic by keyword. First matching rule
// wins; unmatched tactics get a balanced general-purpose profile.
func inferExecutionHint(tactic string) ExecutionHint {
	lowered := strings.ToLower(tactic)
	for _, rule := range hintRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return rule.hint
			}
		}
	}
	return ExecutionHint{Model: "balanced", TaskType: "general", TokenCost: "medium"}
}
