package turn

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxChatNameRunes = 50

func thinkingInstruction(question string) string {
	return fmt.Sprintf(`Think through the following request step by step before anyone answers it.

Request: %s

Write out your reasoning: restate what is being asked, list the facts and assumptions that matter, consider alternative approaches, and note anything that is uncertain. Do not write the final answer yet.`, question)
}

func answerInstruction(question string) string {
	return fmt.Sprintf(`Using the reasoning above, now give the final answer to this request: %s

Keep the reasoning in mind but do not repeat it. Give a clear, well-structured answer.`, question)
}

// ChatName derives a chat title from the first assistant answer: the first
// sentence, cut to 50 runes with a trailing "..." when longer.
func ChatName(answer string) string {
	name := strings.TrimSpace(answer)
	if i := strings.IndexAny(name, ".!?"); i > 0 {
		name = name[:i+1]
	}
	name = strings.Join(strings.Fields(name), " ")
	if utf8.RuneCountInString(name) > maxChatNameRunes {
		name = string([]rune(name)[:maxChatNameRunes-3]) + "..."
	}
	return name
}
