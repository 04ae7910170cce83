package coaching

import "strings"

// Reply is the outcome of one scripted turn.
type Reply struct {
	Text          string
	Notice        string
	QuickReplies  []string
	PlanDelivered bool
}

// FallbackState tracks progress through a goal's question script. It is not
// safe for concurrent use; the owning session serializes access.
type FallbackState struct {
	nextIndex       int
	answers         []Answer
	pendingQuestion string
	noticeShown     bool
	planDelivered   bool
}

// RecordAnswer stores text as the answer to the pending question. Blank text
// or no pending question is a no-op.
func (f *FallbackState) RecordAnswer(text string) {
	answer := strings.TrimSpace(text)
	if f.pendingQuestion == "" || answer == "" {
		return
	}
	f.answers = append(f.answers, Answer{Question: f.pendingQuestion, Answer: answer})
	f.pendingQuestion = ""
}

// Respond produces the next scripted reply: the next question while answers
// are missing, then the plan. Once the plan is delivered every later call
// renders the plan again and never asks.
func (f *FallbackState) Respond(goalLabel string, questions []string, b *MessageBuilder) Reply {
	if len(questions) == 0 {
		msg := b.OpenEnded(goalLabel)
		return Reply{Text: msg.Text, Notice: f.takeNotice(), QuickReplies: msg.QuickReplies}
	}

	if f.planDelivered || len(f.answers) >= len(questions) {
		f.planDelivered = true
		f.pendingQuestion = ""
		msg := b.Plan(goalLabel, f.Answers())
		return Reply{Text: msg.Text, QuickReplies: msg.QuickReplies, PlanDelivered: true}
	}

	question := ""
	if f.nextIndex < len(questions) {
		question = questions[f.nextIndex]
		f.nextIndex++
	}
	f.pendingQuestion = question
	msg := b.Question(goalLabel, question)
	return Reply{Text: msg.Text, Notice: f.takeNotice(), QuickReplies: msg.QuickReplies}
}

func (f *FallbackState) takeNotice() string {
	if f.noticeShown {
		return ""
	}
	f.noticeShown = true
	return OfflineNotice
}

// Answers returns a copy of the collected answers in order.
func (f FallbackState) Answers() []Answer {
	return append([]Answer(nil), f.answers...)
}

func (f FallbackState) NextIndex() int          { return f.nextIndex }
func (f FallbackState) PendingQuestion() string { return f.pendingQuestion }
func (f FallbackState) NoticeShown() bool       { return f.noticeShown }
func (f FallbackState) PlanDelivered() bool     { return f.planDelivered }
