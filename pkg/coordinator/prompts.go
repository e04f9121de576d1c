package coordinator

import (
	"fmt"
	"strings"
)

// reviewOutputSchema instructs the backend to end its review with the score
// on the last line so parseReviewScore can extract it.
const reviewOutputSchema = `End your response with the total score (0-100) as a standalone number on the last line.
For example, if the total score is 62, the last line of your response should be:
62`

// plannerPrompt asks for the next concrete step with acceptance criteria.
// The previous cycle's review is fed back so planning builds on accepted
// progress.
func plannerPrompt(taskPrompt, priorReview string) string {
	var b strings.Builder
	b.WriteString("You are the planner. Define the next actionable step toward the task below,\n")
	b.WriteString("with explicit acceptance criteria. Do not write the code yourself.\n\n")
	b.WriteString("Task:\n")
	b.WriteString(taskPrompt)
	if priorReview != "" {
		b.WriteString("\n\nYour review of the previous step:\n")
		b.WriteString(priorReview)
	}
	return b.String()
}

// executorPrompt hands the plan to the executor role. A non-empty critique
// means the previous attempt failed review and is being retried.
func executorPrompt(taskPrompt, plan, critique string) string {
	var b strings.Builder
	b.WriteString("You are the executor. Carry out the planned step below for this task:\n\n")
	b.WriteString(taskPrompt)
	b.WriteString("\n\nPlan:\n")
	b.WriteString(plan)
	if critique != "" {
		b.WriteString("\n\nYour previous attempt did not pass review. Address this critique:\n")
		b.WriteString(critique)
	}
	b.WriteString("\n\nWhen you judge the step fully carried out, end your reply with the line: TASK COMPLETED")
	return b.String()
}

// reviewPrompt asks the planner to grade the executor's work against the
// acceptance criteria it defined. A review that judges the whole task done
// should say so explicitly.
func reviewPrompt(taskPrompt, workSummary string) string {
	var b strings.Builder
	b.WriteString("You are reviewing the executor's work against the original task:\n\n")
	b.WriteString(taskPrompt)
	b.WriteString("\n\nExecutor's final report:\n")
	b.WriteString(workSummary)
	b.WriteString("\n\nAssess the work against your acceptance criteria and state what is missing or wrong.\n")
	b.WriteString("If the whole task is now done, say TASK COMPLETED in your assessment.\n")
	b.WriteString(reviewOutputSchema)
	return b.String()
}

// reviewReminderPrompt re-asks for the score when the previous review did not
// end with one.
func reviewReminderPrompt() string {
	return fmt.Sprintf("Your previous response did not end with a score. Repeat your assessment if needed.\n%s", reviewOutputSchema)
}
