package usecase

import (
	"fmt"
	"strings"
)

func buildSystemPrompt(goalLabel string, questions []string) string {
	var sb strings.Builder
	sb.WriteString("Tu es un coach financier personnel qui guide un utilisateur francophone. ")
	fmt.Fprintf(&sb, "Objectif prioritaire : %s. ", normalizePromptInput(goalLabel))
	sb.WriteString("Tu poses UNE seule question a la fois, de maniere claire et empathique. ")
	sb.WriteString("Commence toujours par collecter les informations necessaires avant de proposer un plan d'action. ")
	sb.WriteString("Questions recommandees : ")
	for i, q := range questions {
		fmt.Fprintf(&sb, "%d. %s ", i+1, q)
	}
	sb.WriteString("Quand tu as assez d'informations, propose un resume, un plan d'action en trois etapes maximum, ")
	sb.WriteString("puis termine avec une question de suivi unique. ")
	sb.WriteString("Reste prudent : pas de promesses irrealistes ni de conseils illegaux.")
	return sb.String()
}

func buildKickoffMessage(goalLabel string) string {
	return fmt.Sprintf(
		"L'utilisateur a choisi l'objectif \"%s\". Commence la conversation, salue brievement, et pose la premiere question adaptee.",
		normalizePromptInput(goalLabel),
	)
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
