package logger

import (
	"io"
	"log"
	"strings"
	"sync"

	"papertrader/internal/pkg/jsonutil"
)

var (
	llmMu          sync.Mutex
	llmLog         *log.Logger
	llmDumpPayload bool
)

// SetLLMWriter routes oracle transcripts to w; nil disables them.
func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

func EnableLLMPayloadDump(enabled bool) {
	llmMu.Lock()
	llmDumpPayload = enabled
	llmMu.Unlock()
}

type llmSection struct {
	Title string
	Body  string
}

func logLLM(kind, model, purpose string, sections []llmSection) {
	llmMu.Lock()
	out := llmLog
	llmMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM]")
	for _, tag := range []string{kind, model, purpose} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}

func LogLLMRequest(model, purpose, systemPrompt, userPrompt string) {
	llmMu.Lock()
	dump := llmDumpPayload
	llmMu.Unlock()
	if !dump {
		return
	}
	logLLM("request", model, purpose, []llmSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	})
}

func LogLLMResponse(model, purpose, raw string) {
	llmMu.Lock()
	dump := llmDumpPayload
	llmMu.Unlock()
	if !dump {
		return
	}
	sections := []llmSection{{Title: "RAW", Body: raw}}
	if block, ok := jsonutil.ExtractJSON(raw); ok {
		sections = append(sections, llmSection{Title: "JSON", Body: jsonutil.Pretty(block)})
	}
	logLLM("response", model, purpose, sections)
}
