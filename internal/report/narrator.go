package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/topografia/internal/analysis"
	"github.com/lox/topografia/internal/models"
)

// ErrNoAPIKey is returned when the narrator is built without credentials.
var ErrNoAPIKey = errors.New("report: OPENAI_API_KEY not set")

const defaultModel = "gpt-4o-mini"

const systemPrompt = `Eres un ingeniero de control de calidad de pavimentos de concreto.
Redacta un resumen breve (máximo 120 palabras) en español para el residente de obra.
Menciona el avance, el cumplimiento de la tolerancia SCT, las estaciones problemáticas
y una recomendación concreta. No inventes cifras que no estén en los datos.`

// Narrator writes a plain-language summary of an analysis with OpenAI.
type Narrator struct {
	client openai.Client
	model  string
	cache  *Cache
}

// NewNarrator creates a narrator. cache may be nil.
func NewNarrator(apiKey string, cache *Cache, opts ...option.RequestOption) (*Narrator, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Narrator{
		client: openai.NewClient(opts...),
		model:  defaultModel,
		cache:  cache,
	}, nil
}

// Narrate returns the narrative for an analysis. Narratives are cached by
// the content of the summary, so unchanged data is never sent twice.
func (n *Narrator) Narrate(ctx context.Context, p models.Project, s analysis.Summary) (string, error) {
	prompt, err := buildPrompt(p, s)
	if err != nil {
		return "", err
	}
	key := cacheKey(p.ID, prompt)
	if n.cache != nil {
		if data, ok := n.cache.Get(key); ok {
			return string(data), nil
		}
	}

	log.Printf("report: generating narrative for project %d", p.ID)
	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: n.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("narrative generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no narrative returned")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty narrative returned")
	}

	if n.cache != nil {
		if err := n.cache.Set(key, []byte(text)); err != nil {
			log.Printf("report: cache narrative: %v", err)
		}
	}
	return text, nil
}

func cacheKey(projectID int64, prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("narrative_%d_%s.txt", projectID, hex.EncodeToString(sum[:8]))
}

// buildPrompt lays out the figures the model may use.
func buildPrompt(p models.Project, s analysis.Summary) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Proyecto: %s", p.Name)
	if p.Section != "" {
		fmt.Fprintf(&b, " (tramo %s)", p.Section)
	}
	fmt.Fprintf(&b, "\nTolerancia SCT: %.3f m\n", s.Tolerance)
	fmt.Fprintf(&b, "Avance: %.1f%% (%d de %d estaciones)\n", s.Completion, s.MeasuredStations, s.ExpectedStations)
	fmt.Fprintf(&b, "Lecturas dentro de tolerancia: %.1f%% de %d evaluadas\n", s.WithinTolerance, s.EvaluatedReadings)
	fmt.Fprintf(&b, "Lecturas críticas: %d\n", s.Critical)
	fmt.Fprintf(&b, "Puntuación de calidad: %.1f\n", s.QualityScore)
	fmt.Fprintf(&b, "Dictamen: %s\n", s.Verdict)

	if len(s.ProblemStations) > 0 {
		kms := make([]string, len(s.ProblemStations))
		for i, km := range s.ProblemStations {
			kms[i] = fmt.Sprintf("%.2f", km)
		}
		fmt.Fprintf(&b, "Estaciones problemáticas: %s\n", strings.Join(kms, ", "))
	}

	// Map keys marshal sorted, keeping the prompt stable for the cache key.
	data, err := json.Marshal(s.Histogram)
	if err != nil {
		return "", fmt.Errorf("encode histogram: %w", err)
	}
	fmt.Fprintf(&b, "Calidad de lecturas: %s\n", data)
	fmt.Fprintf(&b, "Volúmenes: corte %.2f m³, relleno %.2f m³\n", s.Volumes.Cut, s.Volumes.Fill)
	return b.String(), nil
}
