package openrouter

import "fmt"

const (
	compressThreshold = 10
	compressKeepHead  = 2
	compressKeepTail  = 8
)

// CompressHistory bounds long histories: past compressThreshold messages it
// keeps the two oldest and eight newest and puts a single system marker in
// place of everything in between. The input slice is not modified.
func CompressHistory(messages []Message) []Message {
	if len(messages) <= compressThreshold {
		return messages
	}

	omitted := len(messages) - compressKeepHead - compressKeepTail
	out := make([]Message, 0, compressKeepHead+1+compressKeepTail)
	out = append(out, messages[:compressKeepHead]...)
	out = append(out, Message{
		Role:    "system",
		Content: fmt.Sprintf("[%d earlier messages were omitted to keep the conversation short]", omitted),
	})
	out = append(out, messages[len(messages)-compressKeepTail:]...)
	return out
}
