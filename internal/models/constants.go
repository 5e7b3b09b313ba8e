package models

const (
	FallbackTopic    = "General Knowledge"
	MinQuestionCount = 1
	MaxQuestionCount = 10
	ContextSeparator = "\n---\n"
	ThinkTag         = `(?s)<think>.*?</think>`
	CodeFenceTag     = "(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$"
)

var (
	// QuestionPromptTemplate is filled with {topic} and {context}
	QuestionPromptTemplate = `You are a subject matter expert on the topic: {topic}

Follow the instructions to create a quiz question:
1. Generate a question based on the topic provided and context as key "question"
2. Provide 4 multiple choice answers to the question as a list of key-value pairs "choices"
3. Provide the correct answer for the question from the list of answers as key "answer"
4. Provide an explanation as to why the answer is correct as key "explanation"

You must respond as a JSON object with the following structure:
{
    "question": "<question>",
    "choices": [
        {"key": "A", "value": "<choice>"},
        {"key": "B", "value": "<choice>"},
        {"key": "C", "value": "<choice>"},
        {"key": "D", "value": "<choice>"}
    ],
    "answer": "<answer key from choices list>",
    "explanation": "<explanation as to why the answer is correct>"
}

Respond with the JSON object only.

Context: {context}
`
)
