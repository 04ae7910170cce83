// Package coaching holds the deterministic side of the coach: the scripted
// question bank, goal classification, budget figures and the fallback
// dialogue used whenever the language model cannot answer.
package coaching

// GoalID is a canonical goal category.
type GoalID string

const (
	GoalEmergencyFund  GoalID = "emergency_fund"
	GoalSpendingCut    GoalID = "spending_cut"
	GoalDebtRepayment  GoalID = "debt_repayment"
	GoalTargetPurchase GoalID = "target_purchase"
	GoalMonthlyBudget  GoalID = "monthly_budget"
	GoalInvestBeginner GoalID = "invest_beginner"
	GoalOther          GoalID = "other_goal"
)

type goalScript struct {
	label     string
	questions []string
}

// QuestionBank maps goal categories to their ordered scripted questions.
// It is read-only after construction and safe for concurrent use.
type QuestionBank struct {
	scripts  map[GoalID]goalScript
	fallback GoalID
}

// NewQuestionBank builds a bank from explicit scripts. Unknown ids resolve to
// the fallback category's list.
func NewQuestionBank(questions map[GoalID][]string, fallback GoalID) *QuestionBank {
	scripts := make(map[GoalID]goalScript, len(questions))
	for id, qs := range questions {
		scripts[id] = goalScript{label: string(id), questions: append([]string(nil), qs...)}
	}
	return &QuestionBank{scripts: scripts, fallback: fallback}
}

// DefaultQuestionBank returns the built-in French question script.
func DefaultQuestionBank() *QuestionBank {
	return &QuestionBank{
		fallback: GoalOther,
		scripts: map[GoalID]goalScript{
			GoalEmergencyFund: {
				label: "Fonds d'urgence",
				questions: []string{
					"Quel est ton revenu mensuel net approximatif ?",
					"Tes revenus sont-ils stables ou variables ?",
					"Quel est ton budget mensuel moyen pour les dépenses essentielles ?",
					"As-tu déjà une épargne disponible aujourd'hui ? Si oui, combien environ ?",
					"Combien de mois de dépenses aimerais-tu couvrir avec ton matelas de sécurité ?",
					"Combien penses-tu pouvoir mettre de côté chaque mois sans te mettre en difficulté ?",
				},
			},
			GoalSpendingCut: {
				label: "Réduire mes dépenses",
				questions: []string{
					"Quel est ton revenu mensuel net approximatif ?",
					"As-tu une idée de ton budget mensuel total actuel ?",
					"Quelles sont tes plus grosses dépenses fixes (loyer, transport, abonnements, etc.) ?",
					"As-tu des dépenses variables que tu juges excessives ?",
					"Suis-tu actuellement tes dépenses (application, carnet, rien du tout) ?",
					"Quel est ton objectif principal en réduisant tes dépenses (épargne, confort, remboursement de dette) ?",
				},
			},
			GoalDebtRepayment: {
				label: "Rembourser une dette",
				questions: []string{
					"Quel type de dette souhaites-tu rembourser (crédit, prêt, découvert, autre) ?",
					"Quel est le montant total restant à rembourser ?",
					"Quel est le montant de la mensualité actuelle ?",
					"Connais-tu le taux d'intérêt associé à cette dette ?",
					"As-tu d'autres dettes en parallèle ?",
					"Combien pourrais-tu consacrer chaque mois au remboursement sans déséquilibrer ton budget ?",
				},
			},
			GoalTargetPurchase: {
				label: "Financer un achat",
				questions: []string{
					"Quel est l'achat que tu souhaites financer ?",
					"Quel est le budget total estimé pour cet achat ?",
					"À quelle date aimerais-tu réaliser cet achat ?",
					"As-tu déjà commencé à épargner pour cet objectif ?",
					"Combien peux-tu mettre de côté chaque mois ?",
					"Cet achat est-il prioritaire ou flexible dans le temps ?",
				},
			},
			GoalMonthlyBudget: {
				label: "Budget mensuel",
				questions: []string{
					"Quel est ton revenu mensuel net ?",
					"As-tu déjà un budget mensuel défini ?",
					"Quelles sont tes dépenses fixes principales ?",
					"As-tu souvent des fins de mois difficiles ?",
					"Épargnes-tu actuellement, même un petit montant ?",
					"Préféres-tu un budget très strict ou plutôt flexible ?",
				},
			},
			GoalInvestBeginner: {
				label: "Débuter en investissement",
				questions: []string{
					"As-tu déjà une épargne de sécurité constituée ?",
					"Quel est le montant que tu serais prêt à investir au départ ?",
					"Sur quelle durée envisages-tu cet investissement (court, moyen, long terme) ?",
					"Quel est ton niveau de tolérance au risque (faible, moyen, élevé) ?",
					"Préfères-tu des placements simples ou es-tu prêt à apprendre progressivement ?",
					"Cet argent est-il totalement distinct de tes dépenses essentielles ?",
				},
			},
			GoalOther: {
				label: "Autre objectif",
				questions: []string{
					"Peux-tu me décrire brièvement ton objectif financier ?",
					"Pourquoi cet objectif est-il important pour toi ?",
					"As-tu une échéance ou une contrainte particulière ?",
					"Quel est ton revenu mensuel approximatif ?",
					"As-tu déjà réfléchi à une stratégie pour cet objectif ?",
				},
			},
		},
	}
}

// QuestionsFor returns a copy of the ordered questions for id, falling back
// to the default category for unknown ids.
func (b *QuestionBank) QuestionsFor(id GoalID) []string {
	s, ok := b.scripts[id]
	if !ok {
		s = b.scripts[b.fallback]
	}
	return append([]string(nil), s.questions...)
}

// Known reports whether id has its own script.
func (b *QuestionBank) Known(id GoalID) bool {
	_, ok := b.scripts[id]
	return ok
}

// Label returns the default human label of a category.
func (b *QuestionBank) Label(id GoalID) string {
	if s, ok := b.scripts[id]; ok {
		return s.label
	}
	return b.scripts[b.fallback].label
}
