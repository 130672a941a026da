// Package dialogue produces the assistant's next spoken line from the running transcript.
package dialogue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"voice-secretary/pkg/logger"
)

const (
	// MaxHistory bounds how many prior turns are sent to the model.
	MaxHistory = 10
	// FallbackReply is spoken whenever the model cannot answer.
	FallbackReply = "申し訳ありません、少々お待ちください。"
)

type Role string

const (
	RoleCaller    Role = "caller"
	RoleAssistant Role = "assistant"
)

// Turn is one prior line of the conversation.
type Turn struct {
	Role Role
	Text string
}

// Context carries per-call information appended to the system instruction.
type Context struct {
	Purpose string
	Details map[string]any
}

// Message is the provider-neutral chat message handed to a ChatModel.
type Message struct {
	// Role is "user" or "assistant".
	Role    string
	Content string
}

// ChatModel is a single-shot chat completion backend.
type ChatModel interface {
	Complete(ctx context.Context, system string, messages []Message, maxTokens int) (string, error)
}

type Config struct {
	MaxTokens int
	Timeout   time.Duration
}

// Engine is stateless; everything it needs is passed to GenerateReply.
type Engine struct {
	model ChatModel
	cfg   Config
}

func NewEngine(model ChatModel, cfg Config) *Engine {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Engine{model: model, cfg: cfg}
}

// GenerateReply returns the next assistant line. It never fails: any backend problem
// yields FallbackReply so the caller is never left in silence.
func (e *Engine) GenerateReply(ctx context.Context, utterance string, history []Turn, c Context) string {
	log := logger.From(ctx)
	if e.model == nil {
		log.Warn("dialogue: no chat model configured")
		return FallbackReply
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	msgs := BuildMessages(utterance, history)
	reply, err := e.model.Complete(ctx, SystemPrompt(c), msgs, e.cfg.MaxTokens)
	if err != nil {
		log.Warn("dialogue: completion failed", "err", err)
		return FallbackReply
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		log.Warn("dialogue: empty completion")
		return FallbackReply
	}
	return reply
}

// Summarize condenses a finished call into a short note for the call record.
// ok is false when the model is unavailable.
func (e *Engine) Summarize(ctx context.Context, transcript []Turn, c Context) (string, bool) {
	if e.model == nil || len(transcript) == 0 {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	system := "あなたは通話記録の要約担当です。以下の通話内容を日本語で3文以内に要約してください。" +
		"決まった事項、未解決の事項、相手から得た情報を優先してください。"
	if p := purposeLabel(c.Purpose); p != "" {
		system += "\n通話の目的: " + p
	}

	reply, err := e.model.Complete(ctx, system, []Message{{Role: "user", Content: FormatTranscript(transcript)}}, e.cfg.MaxTokens*2)
	if err != nil {
		logger.From(ctx).Warn("dialogue: summary failed", "err", err)
		return "", false
	}
	reply = strings.TrimSpace(reply)
	return reply, reply != ""
}

const basePrompt = `あなたはユーザーの代理で電話対応を行うAI秘書です。
以下のルールを必ず守ってください。
- 返答は1〜2文で簡潔に話す
- 丁寧な言葉遣い（敬語）を使う
- 質問には直接答える
- 用件の達成に必要な情報（日時、人数、氏名、連絡先など）が不足していれば、ひとつずつ確認する
- 電話での会話なので、記号や箇条書きは使わない`

// SystemPrompt builds the fixed instruction plus the call purpose and context.
func SystemPrompt(c Context) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if p := purposeLabel(c.Purpose); p != "" {
		b.WriteString("\n\n通話の目的: ")
		b.WriteString(p)
	}
	if len(c.Details) > 0 {
		keys := make([]string, 0, len(c.Details))
		for k := range c.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n用件の詳細:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %v", k, c.Details[k])
		}
	}
	return b.String()
}

// BuildMessages maps the last MaxHistory turns plus the new utterance into chat messages.
func BuildMessages(utterance string, history []Turn) []Message {
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	msgs := make([]Message, 0, len(history)+1)
	for _, t := range history {
		role := "user"
		if t.Role == RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, Message{Role: role, Content: t.Text})
	}
	return append(msgs, Message{Role: "user", Content: utterance})
}

// FormatTranscript renders turns as "相手: ..." / "AI: ..." lines.
func FormatTranscript(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		if t.Role == RoleAssistant {
			b.WriteString("AI: ")
		} else {
			b.WriteString("相手: ")
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

var purposeLabels = map[string]string{
	"reservation":      "予約",
	"inquiry":          "問い合わせ",
	"cancellation":     "キャンセル",
	"otp_verification": "認証コードの確認",
	"confirmation":     "確認",
	"other":            "その他",
}

func purposeLabel(p string) string {
	if p == "" {
		return ""
	}
	if l, ok := purposeLabels[p]; ok {
		return l
	}
	return p
}
