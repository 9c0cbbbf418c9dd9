// Package sentiment is the deterministic fallback classifier used when the
// language model gateway is unavailable. The rule table below is the whole
// contract: keyword hits score 3 each into their bucket, a "N dias" duration
// complaint adds 6 to very_negative, exclamation marks add 1 each to the
// winning bucket, and intensity is score/12 clamped to [0.1, 1].
package sentiment

import (
	"regexp"
	"strings"

	"github.com/converso-ai/converso/backend/internal/model/analysis"
)

// Result is the heuristic judgment for one message.
type Result struct {
	Label     analysis.Label
	Intensity float64

	// ProblemReport marks messages matching known complaint patterns,
	// regardless of label.
	ProblemReport bool
	// Blocking marks operational problems that stop the user from working.
	Blocking bool
	// Escalation marks explicit urgency keywords.
	Escalation bool
}

const keywordScore = 3

var keywordBuckets = map[analysis.Label][]string{
	analysis.VeryNegative: {
		"sem conseguir", "não consigo", "nao consigo", "inaceitável", "inaceitavel",
		"péssimo", "pessimo", "horrível", "horrivel", "absurdo", "revoltado", "furioso",
		"urgente", "desesperado", "nunca funciona", "cansado disso",
		"unacceptable", "terrible", "furious", "outraged", "fed up", "can't access", "cannot access",
	},
	analysis.Negative: {
		"problema", "erro", "falha", "ruim", "chateado", "chateada", "frustrado", "frustrada",
		"insatisfeito", "insatisfeita", "demora", "demorado", "lento", "reclamação", "reclamacao",
		"não funciona", "nao funciona", "travado", "bloqueado", "fora do ar",
		"issue", "broken", "bug", "annoyed", "disappointed", "slow", "not working", "wrong",
	},
	analysis.Positive: {
		"obrigado", "obrigada", "valeu", "ótimo", "otimo", "boa", "bom", "ajudou", "resolvido",
		"funcionou", "legal", "gostei",
		"thanks", "thank you", "great", "good", "helpful", "solved",
	},
	analysis.VeryPositive: {
		"excelente", "maravilhoso", "maravilhosa", "perfeito", "perfeita", "incrível", "incrivel",
		"amei", "sensacional", "espetacular", "melhor atendimento",
		"awesome", "amazing", "excellent", "perfect", "love it", "fantastic",
	},
}

var problemPatterns = []string{
	"sem conseguir", "não consigo", "nao consigo", "não funciona", "nao funciona",
	"fora do ar", "erro", "falha", "travado", "bloqueado", "parou de funcionar",
	"can't", "cannot", "not working", "broken", "down", "unable to",
}

var blockingPatterns = []string{
	"acessar", "acesso", "login", "entrar no sistema", "sistema", "fora do ar",
	"folha de pagamento", "pagamento", "ponto", "access", "log in", "payroll",
}

var escalationKeywords = []string{
	"urgente", "urgência", "urgencia", "imediatamente", "crítico", "critico",
	"gravíssimo", "gravissimo", "supervisor", "gerente agora",
	"urgent", "asap", "immediately", "critical", "escalate",
}

// durationComplaint matches "há 3 dias", "ha 2 semanas" style phrasing: a
// problem that has been going on for a while reads as severe.
var durationComplaint = regexp.MustCompile(`(?i)h[áa]\s+\d+\s+(dias?|semanas?|horas?)|for\s+\d+\s+(days?|weeks?|hours?)`)

// Classify runs the rule table over one message. It always produces a
// valid label and intensity; a message with no hits is neutral at 0.2.
func Classify(text string) Result {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Result{Label: analysis.Neutral, Intensity: 0.1}
	}

	scores := make(map[analysis.Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += keywordScore
			}
		}
	}

	hasDuration := durationComplaint.MatchString(text)
	if hasDuration && (scores[analysis.VeryNegative] > 0 || scores[analysis.Negative] > 0) {
		scores[analysis.VeryNegative] += 6
	}

	// Ties resolve toward the more extreme label so a mixed complaint is
	// never read as milder than its strongest signal.
	best := analysis.Neutral
	bestScore := 0
	for _, label := range []analysis.Label{
		analysis.VeryNegative, analysis.Negative, analysis.VeryPositive, analysis.Positive,
	} {
		if score := scores[label]; score > bestScore {
			bestScore = score
			best = label
		}
	}

	if bestScore > 0 {
		bestScore += strings.Count(text, "!")
	}

	intensity := float64(bestScore) / 12
	if intensity > 1 {
		intensity = 1
	}
	if intensity < 0.1 {
		intensity = 0.1
	}
	if best == analysis.Neutral {
		intensity = 0.2
	}

	problem := matchesAny(normalized, problemPatterns)
	return Result{
		Label:         best,
		Intensity:     intensity,
		ProblemReport: problem,
		Blocking:      problem && (hasDuration || matchesAny(normalized, blockingPatterns)),
		Escalation:    matchesAny(normalized, escalationKeywords),
	}
}

func matchesAny(normalized string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}
