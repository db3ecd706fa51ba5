// Package pipeline turns a recognized command into a spoken response.
//
// Process never returns an error: every internal failure degrades to a
// user-facing apology line so a single failed action or memory write cannot
// abort a conversational turn. Steps run strictly in order — memory
// retrieval, intent classification, planning, execution, then the memory
// write — and the write happens only after the response is computed.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lalavoice/lala/internal/intent"
	"github.com/lalavoice/lala/internal/netcheck"
	"github.com/lalavoice/lala/internal/observe"
	"github.com/lalavoice/lala/internal/planner"
	"github.com/lalavoice/lala/internal/weather"
	"github.com/lalavoice/lala/pkg/memory"
	"github.com/lalavoice/lala/pkg/provider/embeddings"
	"github.com/lalavoice/lala/pkg/provider/llm"
)

const (
	// apologyResponse is spoken when an action fails mid-turn.
	apologyResponse = "Lo siento, ocurrió un error al procesar tu solicitud."

	// unknownResponse is spoken for unrecognized commands when no language
	// model is reachable.
	unknownResponse = "No estoy segura de cómo ayudarte con eso."

	tagInteraction = "interacción"

	maxRelevantMemories = 5

	systemPrompt = "Eres Lala, una asistente de voz en español. Responde de " +
		"forma breve y natural, en una o dos frases, como si hablaras en voz alta."
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLLM enables conversational answers for unknown intents.
func WithLLM(provider llm.Provider) Option {
	return func(p *Pipeline) { p.llm = provider }
}

// WithWeather enables the weather intent.
func WithWeather(client *weather.Client) Option {
	return func(p *Pipeline) { p.weather.Store(client) }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics enables intent, provider, and memory-write counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// VectorIndex is the vector-recall surface of a memory store.
type VectorIndex interface {
	IndexEmbedding(ctx context.Context, id string, embedding []float32) error
	SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]memory.Record, error)
}

// WithSemantic enables embedding-based recall on top of keyword overlap.
// New records are indexed on write; retrieval merges similar records into
// the keyword matches. Both sides are best-effort.
func WithSemantic(provider embeddings.Provider, index VectorIndex) Option {
	return func(p *Pipeline) {
		p.embed = provider
		p.index = index
	}
}

// Pipeline is the command-processing orchestrator. Safe for concurrent use,
// though the voice session serializes turns above it.
type Pipeline struct {
	store   memory.Store
	net     *netcheck.Checker
	llm     llm.Provider
	embed   embeddings.Provider
	index   VectorIndex
	weather atomic.Pointer[weather.Client]
	metrics *observe.Metrics
	now     func() time.Time
	log     *slog.Logger
}

// New creates a Pipeline backed by store. The weather and LLM collaborators
// are optional; their intents degrade gracefully when absent.
func New(store memory.Store, net *netcheck.Checker, log *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		store: store,
		net:   net,
		now:   time.Now,
		log:   log.With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process turns one command into a response string. It never fails: internal
// errors are logged and converted into an apology line.
func (p *Pipeline) Process(ctx context.Context, command string) string {
	command = strings.TrimSpace(command)
	if command == "" {
		return unknownResponse
	}

	memories := p.relevantMemories(ctx, command)
	in := intent.Classify(command)
	if p.metrics != nil {
		p.metrics.RecordIntent(ctx, string(in.Type))
	}
	plan := planner.Build(in)
	response := p.execute(ctx, plan, memories)

	p.recordTurn(ctx, command, response, in.Type)
	p.CleanupExpiredMemories(ctx)
	return response
}

// ─── execution ───────────────────────────────────────────────────────────────

// execute dispatches on the plan's intent type. A failed action degrades to
// the apology line; it never propagates.
func (p *Pipeline) execute(ctx context.Context, plan planner.Plan, memories []memory.Record) string {
	switch plan.Intent.Type {
	case intent.GetTime:
		now := p.now()
		return fmt.Sprintf("Son las %02d:%02d.", now.Hour(), now.Minute())

	case intent.GetWeather:
		return p.executeWeather(ctx)

	case intent.CreateReminder:
		return p.executeReminder(ctx, plan.Intent.Text())

	case intent.CreateNote:
		return p.executeNote(ctx, plan.Intent.Text())

	case intent.TellJoke:
		return jokeForDay(p.now())

	default:
		return p.executeUnknown(ctx, plan.Intent.Text(), memories)
	}
}

// SetWeather swaps the weather client, for configuration reloads. A nil
// client disables the intent.
func (p *Pipeline) SetWeather(client *weather.Client) {
	p.weather.Store(client)
}

func (p *Pipeline) executeWeather(ctx context.Context) string {
	client := p.weather.Load()
	if client == nil {
		p.log.Warn("weather intent without a configured client")
		return apologyResponse
	}
	report, err := client.Current(ctx)
	if err != nil {
		p.log.Error("weather lookup failed", "error", err)
		return apologyResponse
	}
	return fmt.Sprintf("Ahora mismo hace %.1f grados, %s, con viento de %.0f km/h.",
		report.TemperatureC, report.Description(), report.WindSpeedKmh)
}

func (p *Pipeline) executeReminder(ctx context.Context, entity string) string {
	rec := memory.Record{
		Kind:       memory.KindTask,
		Content:    "Recordatorio: " + entity,
		Tags:       []string{"recordatorio"},
		Importance: scoreImportance(entity),
	}
	id, err := p.store.Insert(ctx, &rec)
	if err != nil {
		p.log.Error("reminder persist failed", "error", err)
		return apologyResponse
	}
	p.recordWrite(ctx, rec.Kind)
	p.indexRecord(ctx, id, rec.Content)
	return "He creado un recordatorio para: " + entity
}

func (p *Pipeline) executeNote(ctx context.Context, entity string) string {
	rec := memory.Record{
		Kind:       memory.KindFact,
		Content:    "Nota: " + entity,
		Tags:       []string{"nota"},
		Importance: scoreImportance(entity),
	}
	id, err := p.store.Insert(ctx, &rec)
	if err != nil {
		p.log.Error("note persist failed", "error", err)
		return apologyResponse
	}
	p.recordWrite(ctx, rec.Kind)
	p.indexRecord(ctx, id, rec.Content)
	return "He guardado la nota: " + entity
}

// executeUnknown tries a conversational answer through the language model,
// falling back to a fixed line when offline or on any model failure.
func (p *Pipeline) executeUnknown(ctx context.Context, command string, memories []memory.Record) string {
	if p.llm == nil || !p.net.Available(ctx) {
		return unknownResponse
	}

	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: promptWithContext(memories),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: command},
		},
	})
	if err != nil {
		p.log.Error("model completion failed", "provider", p.llm.ID(), "error", err)
		if p.metrics != nil {
			p.metrics.RecordProviderRequest(ctx, p.llm.ID(), "llm", "error")
			p.metrics.RecordProviderError(ctx, p.llm.ID(), "llm")
		}
		return unknownResponse
	}
	if p.metrics != nil {
		p.metrics.RecordProviderRequest(ctx, p.llm.ID(), "llm", "ok")
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return unknownResponse
	}
	return answer
}

func promptWithContext(memories []memory.Record) string {
	if len(memories) == 0 {
		return systemPrompt
	}
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nContexto recordado sobre el usuario:\n")
	for _, rec := range memories {
		b.WriteString("- ")
		b.WriteString(rec.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// ─── memory ──────────────────────────────────────────────────────────────────

// relevantMemories returns up to 5 records whose content matches any keyword
// of the command, most recent first. Retrieval failures are logged and
// swallowed; the turn proceeds without context.
func (p *Pipeline) relevantMemories(ctx context.Context, command string) []memory.Record {
	byID := make(map[string]memory.Record)
	for _, kw := range extractKeywords(command) {
		recs, err := p.store.Query(ctx, memory.Query{ContentContains: kw})
		if err != nil {
			p.log.Warn("memory retrieval failed", "keyword", kw, "error", err)
			continue
		}
		for _, rec := range recs {
			byID[rec.ID] = rec
		}
	}
	p.mergeSimilar(ctx, command, byID)
	if len(byID) == 0 {
		return nil
	}

	matches := make([]memory.Record, 0, len(byID))
	for _, rec := range byID {
		matches = append(matches, rec)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if len(matches) > maxRelevantMemories {
		matches = matches[:maxRelevantMemories]
	}

	ids := make([]string, len(matches))
	for i, rec := range matches {
		ids[i] = rec.ID
	}
	if err := p.store.MarkAccessed(ctx, ids, p.now()); err != nil {
		p.log.Warn("access-stat update failed", "error", err)
	}
	return matches
}

// mergeSimilar adds vector-similar records into byID when semantic recall is
// configured. Failures are logged; keyword matches alone still serve the turn.
func (p *Pipeline) mergeSimilar(ctx context.Context, command string, byID map[string]memory.Record) {
	if p.embed == nil || p.index == nil {
		return
	}
	vec, err := p.embed.Embed(ctx, command)
	if err != nil {
		p.log.Warn("command embedding failed", "error", err)
		return
	}
	recs, err := p.index.SearchSimilar(ctx, vec, maxRelevantMemories)
	if err != nil {
		p.log.Warn("similarity search failed", "error", err)
		return
	}
	for _, rec := range recs {
		byID[rec.ID] = rec
	}
}

// recordWrite bumps the memory-write counter for one appended record.
func (p *Pipeline) recordWrite(ctx context.Context, kind memory.Kind) {
	if p.metrics != nil {
		p.metrics.RecordMemoryWrite(ctx, string(kind))
	}
}

// indexRecord computes and stores the embedding for a freshly written record.
// Best-effort: an unindexed record is still reachable by keyword.
func (p *Pipeline) indexRecord(ctx context.Context, id, content string) {
	if p.embed == nil || p.index == nil {
		return
	}
	vec, err := p.embed.Embed(ctx, content)
	if err != nil {
		p.log.Warn("record embedding failed", "id", id, "error", err)
		return
	}
	if err := p.index.IndexEmbedding(ctx, id, vec); err != nil {
		p.log.Warn("embedding index failed", "id", id, "error", err)
	}
}

// recordTurn appends the command/response pair as a Conversation record.
// Best-effort: storage failures are logged and swallowed.
func (p *Pipeline) recordTurn(ctx context.Context, command, response string, intentType intent.Type) {
	rec := memory.Record{
		Kind:       memory.KindConversation,
		Content:    fmt.Sprintf("Usuario: %s\nLala: %s", command, response),
		Tags:       []string{tagInteraction, tagForIntent(intentType)},
		Importance: scoreImportance(command),
	}
	id, err := p.store.Insert(ctx, &rec)
	if err != nil {
		p.log.Error("conversation persist failed", "error", err)
		return
	}
	p.recordWrite(ctx, rec.Kind)
	p.indexRecord(ctx, id, rec.Content)
}

func tagForIntent(t intent.Type) string {
	switch t {
	case intent.GetTime:
		return "tiempo"
	case intent.GetWeather:
		return "clima"
	case intent.CreateReminder:
		return "recordatorio"
	case intent.CreateNote:
		return "nota"
	case intent.TellJoke:
		return "humor"
	default:
		return "general"
	}
}

// RememberFact stores an explicit fact about the user.
func (p *Pipeline) RememberFact(ctx context.Context, content string) (string, error) {
	rec := memory.Record{
		Kind:       memory.KindFact,
		Content:    content,
		Tags:       []string{"hecho"},
		Importance: scoreImportance(content),
	}
	id, err := p.store.Insert(ctx, &rec)
	if err != nil {
		return "", err
	}
	p.recordWrite(ctx, rec.Kind)
	p.indexRecord(ctx, id, content)
	return id, nil
}

// RememberPreference stores an explicit user preference.
func (p *Pipeline) RememberPreference(ctx context.Context, content string) (string, error) {
	rec := memory.Record{
		Kind:       memory.KindPreference,
		Content:    content,
		Tags:       []string{"preferencia"},
		Importance: scoreImportance(content),
	}
	id, err := p.store.Insert(ctx, &rec)
	if err != nil {
		return "", err
	}
	p.recordWrite(ctx, rec.Kind)
	p.indexRecord(ctx, id, content)
	return id, nil
}

// CleanupExpiredMemories deletes every record whose expiry is in the past.
// Idempotent; failures are logged and swallowed.
func (p *Pipeline) CleanupExpiredMemories(ctx context.Context) int {
	n, err := p.store.DeleteExpired(ctx, p.now())
	if err != nil {
		p.log.Warn("expiry sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		p.log.Debug("expired memories deleted", "count", n)
	}
	return n
}
