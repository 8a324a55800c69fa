// Package classifier turns raw assistant output into a runnable submission.
//
// A snippet may arrive wrapped in a fenced block (```python ... ```) or as
// bare code. Classify strips the fence, canonicalizes the declared tag and,
// when no usable tag exists, infers the language from the content.
//
// Usage:
//
//	sub := classifier.Classify("```ts\nconst x: number = 1\n```")
//	fmt.Println(sub.InferredLanguage) // typescript
//	fmt.Println(sub.CleanedCode)      // const x: number = 1
package classifier
