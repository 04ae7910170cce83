package coaching

type goalRule struct {
	goal     GoalID
	keywords []string
}

// goalRules is evaluated in order; the first rule with a matching keyword wins.
var goalRules = []goalRule{
	{GoalEmergencyFund, []string{"urgence", "matelas", "securite"}},
	{GoalSpendingCut, []string{"depense", "reduire", "reduis"}},
	{GoalDebtRepayment, []string{"dette", "credit", "pret", "rembour"}},
	{GoalTargetPurchase, []string{"achat", "voiture", "maison", "voyage"}},
	{GoalMonthlyBudget, []string{"budget", "mensuel", "planifier"}},
	{GoalInvestBeginner, []string{"invest", "bourse", "placement", "etf"}},
}

// ClassifyGoal maps a free-text goal title to a canonical category.
func ClassifyGoal(title string) GoalID {
	normalized := fold(title)
	if normalized == "" {
		return GoalOther
	}
	for _, r := range goalRules {
		if containsAny(normalized, r.keywords...) {
			return r.goal
		}
	}
	return GoalOther
}
