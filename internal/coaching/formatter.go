package coaching

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// DefaultQuestion is asked when the script has nothing left to ask.
	DefaultQuestion = "Peux-tu me donner ton revenu mensuel net approximatif pour que je puisse affiner le plan ?"
	// OfflineNotice is attached once per session to the first scripted reply.
	OfflineNotice = "Mode hors-ligne activé – je continue avec un plan simplifié."

	openEndedPrompt = "Dis-m'en un peu plus sur ta situation pour que je puisse t'orienter."
	planHeader      = "Actions (cette semaine) :"
	planClosing     = "Question : Souhaites-tu qu'on fasse un point ensemble après ces trois actions ?"
	bullet          = "• "
)

var (
	spendingReplies = []string{"Restos", "Shopping", "Abonnements", "Transport"}
	incomeReplies   = []string{"< 7 000 MAD", "7 000 - 12 000 MAD", "> 12 000 MAD", "Variable"}
	dateReplies     = []string{"Ce trimestre", "6 mois", "1 an", "Je ne sais pas"}
	savingsReplies  = []string{"100 MAD", "300 MAD", "500 MAD", "Je ne sais pas"}
	defaultReplies  = []string{"OK", "Je reformule", "Plus tard"}
	planReplies     = []string{"Oui, rappel", "Je gère seul(e)", "Propose autre chose"}
)

// Answer is a scripted question paired with what the user replied.
type Answer struct {
	Question string
	Answer   string
}

// Message is a rendered scripted reply.
type Message struct {
	Text         string
	QuickReplies []string
}

// MessageBuilder renders scripted replies from a budget snapshot. It holds no
// mutable state.
type MessageBuilder struct {
	snapshot BudgetSnapshot
	printer  *message.Printer
}

func NewMessageBuilder(snapshot BudgetSnapshot) *MessageBuilder {
	return &MessageBuilder{
		snapshot: snapshot,
		printer:  message.NewPrinter(language.French),
	}
}

// Question renders the budget summary followed by a single question.
func (b *MessageBuilder) Question(goalLabel, question string) Message {
	followUp := strings.TrimSpace(question)
	if followUp == "" {
		followUp = DefaultQuestion
	}
	return Message{
		Text:         b.summary(goalLabel) + "\n\n" + followUp,
		QuickReplies: QuickRepliesFor(followUp),
	}
}

// OpenEnded is used for goals without any scripted question.
func (b *MessageBuilder) OpenEnded(goalLabel string) Message {
	return Message{
		Text:         b.summary(goalLabel) + "\n\n" + openEndedPrompt,
		QuickReplies: copyReplies(defaultReplies),
	}
}

// Plan renders the summary, three weekly actions and one closing question.
func (b *MessageBuilder) Plan(goalLabel string, answers []Answer) Message {
	actions := b.actions()
	if len(answers) > 0 {
		latest := answers[len(answers)-1]
		actions[0] = fmt.Sprintf("Garde en tête ce que tu viens de préciser : \"%s\".", latest.Answer)
	}

	var sb strings.Builder
	sb.WriteString(b.summary(goalLabel))
	sb.WriteString("\n")
	sb.WriteString(planHeader)
	sb.WriteString("\n")
	for _, a := range actions {
		sb.WriteString(bullet)
		sb.WriteString(a)
		sb.WriteString("\n")
	}
	sb.WriteString(planClosing)
	return Message{Text: sb.String(), QuickReplies: copyReplies(planReplies)}
}

// FormatAmount renders a whole amount with French digit grouping.
func (b *MessageBuilder) FormatAmount(v float64) string {
	return b.printer.Sprintf("%d", int64(math.Round(v)))
}

func (b *MessageBuilder) summary(goalLabel string) string {
	s := b.snapshot
	var sb strings.Builder
	fmt.Fprintf(&sb, "Résumé : Tu utilises ~%s MAD sur %s MAD (%d%%) pour avancer vers \"%s\".",
		b.FormatAmount(s.TotalSpent), b.FormatAmount(s.TotalBudget), percent(s.Usage()), goalLabel)

	top := s.TopCategories(2)
	switch len(top) {
	case 2:
		fmt.Fprintf(&sb, " %s est à %d%% et %s à %d%% : concentrons-nous sur ces postes variables.",
			top[0].Name, percent(top[0].UsageRatio()), top[1].Name, percent(top[1].UsageRatio()))
	case 1:
		fmt.Fprintf(&sb, " %s est utilisé à %d%%.", top[0].Name, percent(top[0].UsageRatio()))
	}
	return sb.String()
}

func (b *MessageBuilder) actions() []string {
	adjustable := b.snapshot.TopAdjustable(3)
	actions := make([]string, 0, 3)

	switch {
	case len(adjustable) >= 3:
		actions = append(actions, fmt.Sprintf(
			"Liste tes 3 postes flexibles clés (%s, %s, %s) et note un objectif réaliste pour chacun.",
			adjustable[0].Name, adjustable[1].Name, adjustable[2].Name))
	case len(adjustable) > 0:
		actions = append(actions, "Liste tes postes flexibles prioritaires et pose des objectifs rapides poste par poste.")
	default:
		actions = append(actions, "Fais un point rapide sur tes postes variables pour garder le contrôle.")
	}

	if len(adjustable) > 0 {
		focus := adjustable[0]
		actions = append(actions, fmt.Sprintf(
			"Fixe un plafond confort/loisirs à %s MAD max (actuellement %s MAD sur %s).",
			b.FormatAmount(focus.Limit), b.FormatAmount(focus.Spent), focus.Name))
	} else {
		actions = append(actions, "Fixe un plafond confort hebdomadaire et respecte-le.")
	}

	actions = append(actions, fmt.Sprintf("Automatise %s MAD d'épargne juste après le salaire.",
		b.FormatAmount(float64(SuggestedTransfer(b.snapshot.Available())))))
	return actions
}

// SuggestedTransfer is 30% of what is left, rounded to the nearest ten and
// clamped to [200, 600].
func SuggestedTransfer(available float64) int64 {
	v := int64(math.Round(available*0.3/10)) * 10
	if v > 600 {
		v = 600
	}
	if v < 200 {
		v = 200
	}
	return v
}

// QuickRepliesFor picks suggestions from keywords in the question. Rules are
// checked in order and the first match wins.
func QuickRepliesFor(question string) []string {
	normalized := fold(question)
	switch {
	case containsAny(normalized, "depense", "reduire", "budget", "confort"):
		return copyReplies(spendingReplies)
	case containsAny(normalized, "revenu", "salaire", "gagne"):
		return copyReplies(incomeReplies)
	case containsAny(normalized, "date", "echeance", "quand"):
		return copyReplies(dateReplies)
	case containsAny(normalized, "epargne", "mettre de cote", "montant"):
		return copyReplies(savingsReplies)
	default:
		return copyReplies(defaultReplies)
	}
}

func percent(ratio float64) int64 {
	return int64(math.Round(ratio * 100))
}

func copyReplies(in []string) []string {
	return append([]string(nil), in...)
}
